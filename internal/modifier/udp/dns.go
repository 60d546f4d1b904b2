// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package udp

import (
	"net"

	"github.com/miekg/dns"

	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/modifier"
)

// DNSModifier rewrites A and AAAA answers in DNS responses to configured
// addresses. Arguments: "a" and/or "aaaa", each an IP address string.
type DNSModifier struct{}

func (m *DNSModifier) Name() string {
	return "dns"
}

func (m *DNSModifier) New(args map[string]any) (modifier.Instance, error) {
	i := &dnsModifierInstance{}
	if v, ok := args["a"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "dns modifier: a must be a string, got %T", v)
		}
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return nil, errors.Errorf(errors.KindValidation, "dns modifier: invalid IPv4 address %q", s)
		}
		i.a = ip.To4()
	}
	if v, ok := args["aaaa"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "dns modifier: aaaa must be a string, got %T", v)
		}
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() != nil {
			return nil, errors.Errorf(errors.KindValidation, "dns modifier: invalid IPv6 address %q", s)
		}
		i.aaaa = ip
	}
	if i.a == nil && i.aaaa == nil {
		return nil, errors.New(errors.KindValidation, "dns modifier: at least one of a, aaaa is required")
	}
	return i, nil
}

type dnsModifierInstance struct {
	a    net.IP
	aaaa net.IP
}

func (i *dnsModifierInstance) Process(data []byte) ([]byte, error) {
	var msg dns.Msg
	if err := msg.Unpack(data); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "dns modifier: unpack")
	}
	for _, rr := range msg.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if i.a != nil {
				rr.A = i.a
			}
		case *dns.AAAA:
			if i.aaaa != nil {
				rr.AAAA = i.aaaa
			}
		}
	}
	out, err := msg.Pack()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "dns modifier: pack")
	}
	return out, nil
}
