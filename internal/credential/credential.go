// Package credential supplies the shared password: from the APP_PASSWORD
// environment variable, from a dotenv-style credential file, or on first run
// from an interactive prompt that then writes the file.
package credential

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// EnvKey names both the environment variable and the credential file key.
const EnvKey = "APP_PASSWORD"

var (
	ErrEmptySecret = errors.New("password cannot be empty")
	ErrNoTerminal  = errors.New("no password configured and stdin is not a terminal")
	ErrMismatch    = errors.New("passwords do not match")
	ErrUnstorable  = errors.New("password cannot be stored in the credential file, set APP_PASSWORD instead")
)

// test seams
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// Load returns the configured secret. The environment wins over the file.
// found is false when neither source exists; a file without a value is an
// error rather than a reason to prompt.
func Load(path string) (secret string, found bool, err error) {
	if v, ok := os.LookupEnv(EnvKey); ok && strings.TrimSpace(v) != "" {
		return v, true, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat credential file: %w", err)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return "", false, fmt.Errorf("read credential file: %w", err)
	}
	v := env[EnvKey]
	if strings.TrimSpace(v) == "" {
		return "", false, fmt.Errorf("%s in %s: %w", EnvKey, path, ErrEmptySecret)
	}
	return v, true, nil
}

// Save writes the secret to path, readable by the owner only. It refuses
// values that would not read back unchanged, so a bad password fails on the
// first run instead of on every restart after it.
func Save(path, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return ErrEmptySecret
	}
	line, err := encode(secret)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// encode returns the first APP_PASSWORD line godotenv parses back to secret.
// Written by hand rather than with godotenv.Marshal, which drops leading
// zeros from numeric-looking values.
func encode(secret string) (string, error) {
	candidates := []string{
		EnvKey + "=" + secret + "\n",
		EnvKey + "='" + secret + "'\n",
		EnvKey + `="` + escape(secret) + "\"\n",
	}
	for _, line := range candidates {
		env, err := godotenv.Unmarshal(line)
		if err == nil && env[EnvKey] == secret {
			return line, nil
		}
	}
	return "", ErrUnstorable
}

// Ensure returns the configured secret, running prompt and saving its answer
// when none is configured yet.
func Ensure(path string, prompt func() (string, error)) (string, error) {
	secret, found, err := Load(path)
	if err != nil {
		return "", err
	}
	if found {
		return secret, nil
	}
	secret, err = prompt()
	if err != nil {
		return "", err
	}
	if err := Save(path, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// Prompt asks for a new password on the terminal behind fd, twice, without
// echo. Surrounding whitespace is dropped.
func Prompt(w io.Writer, fd int) (string, error) {
	if !isTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintln(w, "First time setup: no password found.")

	first, err := ask(w, fd, "Please enter a password for rshare: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", ErrEmptySecret
	}
	second, err := ask(w, fd, "Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrMismatch
	}
	fmt.Fprintln(w, "--------------------------------------------------")
	return first, nil
}

func ask(w io.Writer, fd int, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes.TrimSpace(b)), nil
}

// escape makes s safe inside a double-quoted dotenv value.
func escape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"\n", `\n`,
		"\r", `\r`,
		`"`, `\"`,
		"$", `\$`,
		"`", "\\`",
		"!", `\!`,
	)
	return r.Replace(s)
}
