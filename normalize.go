package portier

import (
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
)

var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.Transitional(false),
)

// Normalize applies the broker's email normalization: the local part is
// case-folded and the domain is converted to its lowercase ASCII form. It
// returns "" for input that is not a usable address, including addresses
// at IP literals.
//
// Verify already returns normalized addresses. Normalize is useful for
// comparing user input against them.
func Normalize(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	local := cases.Fold().String(email[:at])
	if local == "" {
		return ""
	}

	host := email[at+1:]
	if host == "" || host[0] == '[' {
		return ""
	}
	host, err := domainProfile.ToASCII(host)
	if err != nil || host == "" {
		return ""
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return ""
	}
	return local + "@" + host
}
