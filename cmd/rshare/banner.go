package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/skip2/go-qrcode"
)

func printBanner(w io.Writer, scheme, port, shareURL string) {
	fmt.Fprintf(w, " rshare running (%s):\n", strings.ToUpper(scheme))
	fmt.Fprintf(w, "  Local  -> %s://%s/login\n", scheme, net.JoinHostPort("localhost", port))
	fmt.Fprintf(w, "  LAN    -> %s\n", shareURL)
	if scheme == "https" {
		fmt.Fprintln(w, "  (Note: accept the browser warning for the self-signed certificate)")
	}
	if q, err := qrcode.New(shareURL, qrcode.Low); err == nil {
		fmt.Fprint(w, q.ToSmallString(false))
	}
}
