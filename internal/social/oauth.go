package social

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// generateOAuthHeader builds an OAuth 1.0a HMAC-SHA1 authorization header.
// apiURL must not carry a query string; query parameters go in params.
func (c *TwitterClient) generateOAuthHeader(method, apiURL string, params map[string]string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	nonceStr := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, base64.StdEncoding.EncodeToString(nonce))

	oauthParams := map[string]string{
		"oauth_consumer_key":     c.cfg.APIKey,
		"oauth_nonce":            nonceStr,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.now().Unix(), 10),
		"oauth_token":            c.cfg.AccessToken,
		"oauth_version":          "1.0",
	}

	oauthParams["oauth_signature"] = signOAuth(method, apiURL, oauthParams, params, c.cfg.APISecret, c.cfg.AccessSecret)

	var authPairs []string
	for k, v := range oauthParams {
		authPairs = append(authPairs, percentEncode(k)+"=\""+percentEncode(v)+"\"")
	}
	sort.Strings(authPairs)

	return "OAuth " + strings.Join(authPairs, ", "), nil
}

func signOAuth(method, apiURL string, oauthParams, params map[string]string, consumerSecret, tokenSecret string) string {
	all := make(map[string]string, len(oauthParams)+len(params))
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, v := range params {
		all[k] = v
	}

	pairs := make([]string, 0, len(all))
	for k, v := range all {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)
	paramString := strings.Join(pairs, "&")

	base := strings.ToUpper(method) + "&" + percentEncode(apiURL) + "&" + percentEncode(paramString)
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies RFC 3986 encoding as OAuth 1.0a requires; url.QueryEscape
// encodes spaces as '+', which breaks signatures.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
