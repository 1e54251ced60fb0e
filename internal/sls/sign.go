package sls

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Header names used by the PutLogs API.
const (
	HeaderAPIVersion      = "x-log-apiversion"
	HeaderSignatureMethod = "x-log-signaturemethod"
	HeaderBodyRawSize     = "x-log-bodyrawsize"
	HeaderCompressType    = "x-log-compresstype"
	HeaderProject         = "x-log-project"
	HeaderRequestID       = "x-log-requestid"
	HeaderSecurityToken   = "x-acs-security-token"
	HeaderContentMD5      = "Content-MD5"
	HeaderContentType     = "Content-Type"
	HeaderDate            = "Date"
	HeaderAuthorization   = "Authorization"

	APIVersion      = "0.6.0"
	SignatureMethod = "hmac-sha1"
	ContentType     = "application/x-protobuf"
)

// StringToSign builds the canonical request string:
//
//	VERB \n CONTENT-MD5 \n CONTENT-TYPE \n DATE \n CANONICALIZED-HEADERS \n RESOURCE
//
// where canonicalized headers are the x-log-* and x-acs-* headers, lower-cased,
// sorted, written as name:value and joined by newlines.
func StringToSign(method, path string, query url.Values, h http.Header) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(h.Get(HeaderContentMD5))
	b.WriteByte('\n')
	b.WriteString(h.Get(HeaderContentType))
	b.WriteByte('\n')
	b.WriteString(h.Get(HeaderDate))
	b.WriteByte('\n')

	names := make([]string, 0, len(h))
	for name := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-log-") || strings.HasPrefix(lower, "x-acs-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(h.Get(name))
	}
	b.WriteByte('\n')

	b.WriteString(path)
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(query.Get(k))
		}
	}
	return b.String()
}

// Signature returns base64(hmac-sha1(secret, stringToSign)).
func Signature(secret, stringToSign string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Authorization formats the Authorization header value.
func Authorization(accessKeyID, signature string) string {
	return "LOG " + accessKeyID + ":" + signature
}

// ParseAuthorization splits an Authorization header into key id and signature.
func ParseAuthorization(v string) (accessKeyID, signature string, ok bool) {
	rest, found := strings.CutPrefix(v, "LOG ")
	if !found {
		return "", "", false
	}
	accessKeyID, signature, ok = strings.Cut(rest, ":")
	return accessKeyID, signature, ok && accessKeyID != "" && signature != ""
}

// VerifySignature recomputes the signature of r and compares it with the
// Authorization header in constant time.
func VerifySignature(r *http.Request, accessKeyID, secret string) bool {
	gotID, gotSig, ok := ParseAuthorization(r.Header.Get(HeaderAuthorization))
	if !ok || gotID != accessKeyID {
		return false
	}
	want := Signature(secret, StringToSign(r.Method, r.URL.Path, r.URL.Query(), r.Header))
	return hmac.Equal([]byte(want), []byte(gotSig))
}
