// Package netx finds the address other machines on the LAN can reach us at.
package netx

import (
	"errors"
	"net"
)

// probeAddr is only used to pick a route. Connecting a UDP socket sends no
// packets.
const probeAddr = "8.8.8.8:80"

// LocalIP returns the source address the host would use for outbound
// traffic, or the first private IPv4 interface address when there is no
// default route.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp", probeAddr)
	if err == nil {
		defer conn.Close()
		if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok && !ua.IP.IsUnspecified() {
			return ua.IP, nil
		}
	}
	return fromInterfaces()
}

func fromInterfaces() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil && ip4.IsPrivate() {
			return ip4, nil
		}
	}
	return nil, errors.New("no LAN address found")
}

// HostOr returns ip as a string, or fallback when ip is nil.
func HostOr(ip net.IP, fallback string) string {
	if ip == nil {
		return fallback
	}
	return ip.String()
}
