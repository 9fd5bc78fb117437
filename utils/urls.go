package utils

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ShopURL returns the storefront root for a shop domain such as "demo.myshopify.com".
func ShopURL(shop string) string {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return ""
	}
	if strings.HasPrefix(shop, "http://") || strings.HasPrefix(shop, "https://") {
		return strings.TrimRight(shop, "/")
	}
	return "https://" + strings.TrimRight(shop, "/")
}

// ReferralLink builds the shareable link for a code. With an app URL the link goes
// through the click tracker, otherwise it lands on the storefront with ?ref=.
func ReferralLink(appURL, shop, code string) string {
	if appURL != "" {
		return strings.TrimRight(appURL, "/") + "/track/" + url.PathEscape(code)
	}
	return ShopURL(shop) + "?ref=" + url.QueryEscape(code)
}

// DisplayName joins and title-cases a first and last name.
func DisplayName(first, last string) string {
	name := strings.Join(strings.Fields(first+" "+last), " ")
	if name == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.ToLower(name))
}

// ClientIP picks the originating address from proxy headers.
func ClientIP(forwardedFor, realIP, remote string) string {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	return remote
}
