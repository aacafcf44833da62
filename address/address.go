// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package address defines the node address type shared by every other
// package: membership entries, placement rows, and wire envelopes all key
// off it.
package address

import (
	"fmt"
	"net"
)

// Address is the (host, port) tuple that identifies a node in the cluster.
// Equality is string-equal on the canonical "host:port" form.
type Address struct {
	Host string
	Port int
}

// New builds an Address from host and port.
func New(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// Parse splits a "host:port" string into an Address.
func Parse(hostAndPort string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostAndPort)
	if err != nil {
		return Address{}, fmt.Errorf("address: parse %q: %w", hostAndPort, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Address{}, fmt.Errorf("address: invalid port %q: %w", portStr, err)
	}
	return Address{Host: host, Port: port}, nil
}

// String returns the canonical "host:port" form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// IsZero reports whether the address is the empty value.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// Equal reports string equality between two addresses.
func (a Address) Equal(other Address) bool {
	return a.String() == other.String()
}
