// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keylb

import (
	"net/netip"
	"strconv"
	"strings"
)

// parseHostAddress parses a "host:port" routing string into a network
// address and its normalized string form. The host must be an IP
// literal; a host containing ':' is an IPv6 literal (optionally
// bracketed). The input may come from untrusted routing metadata, so
// every malformed form is a normal failure, reported by ok == false:
// no colon, nothing after the last colon, a port that is not an
// unsigned integer <= 65535, or a host that is not a valid address
// literal.
func parseHostAddress(hostAddress string) (addr netip.AddrPort, normalized string, ok bool) {
	colon := strings.LastIndexByte(hostAddress, ':')
	if colon < 0 || colon == len(hostAddress)-1 {
		return netip.AddrPort{}, "", false
	}
	host := hostAddress[:colon]
	port, err := strconv.ParseUint(hostAddress[colon+1:], 10, 64)
	if err != nil || port > 65535 {
		return netip.AddrPort{}, "", false
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, "", false
	}
	addr = netip.AddrPortFrom(ip.Unmap(), uint16(port))
	return addr, addr.String(), true
}
