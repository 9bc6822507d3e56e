// Package awssig implements AWS Signature Version 4 for JSON-protocol POST
// requests such as the Cost Explorer API.
package awssig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	Algorithm       = "AWS4-HMAC-SHA256"
	AmzDateFormat   = "20060102T150405Z"
	ShortDateFormat = "20060102"
	scopeTerminator = "aws4_request"

	HeaderContentType = "content-type"
	HeaderHost        = "host"
	HeaderAmzDate     = "x-amz-date"
	HeaderAmzTarget   = "x-amz-target"
)

var signedHeaderNames = []string{HeaderContentType, HeaderHost, HeaderAmzDate, HeaderAmzTarget}

type Credentials struct {
	AccessKey string
	SecretKey string
}

// Signer holds the static half of a signature: who signs, and for which
// region and service. It has no other state.
type Signer struct {
	Credentials Credentials
	Region      string
	Service     string
}

func New(creds Credentials, region, service string) *Signer {
	return &Signer{Credentials: creds, Region: region, Service: service}
}

// Request is the part of an HTTP request covered by the signature.
// Headers must carry content-type, host and x-amz-target; x-amz-date is
// derived from the signing time.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Payload []byte
}

// Signature is the output of Sign along with its intermediate artifacts.
type Signature struct {
	Value            string
	AmzDate          string
	CredentialScope  string
	SignedHeaders    string
	CanonicalRequest string
	StringToSign     string
}

// Authorization renders the Authorization header value.
func (s Signature) Authorization(accessKey string) string {
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, accessKey, s.CredentialScope, s.SignedHeaders, s.Value)
}

// Sign computes the signature of req at time t. Identical inputs always
// produce an identical signature.
func (s *Signer) Sign(req Request, t time.Time) Signature {
	t = t.UTC()
	amzDate := t.Format(AmzDateFormat)
	shortDate := t.Format(ShortDateFormat)

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	headers[HeaderAmzDate] = amzDate

	names := make([]string, 0, len(signedHeaderNames))
	for _, name := range signedHeaderNames {
		if _, ok := headers[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	path := req.Path
	if path == "" {
		path = "/"
	}
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(req.Method),
		path,
		"",
		canonicalHeaders.String(),
		signedHeaders,
		HashHex(req.Payload),
	}, "\n")

	scope := strings.Join([]string{shortDate, s.Region, s.Service, scopeTerminator}, "/")
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		HashHex([]byte(canonicalRequest)),
	}, "\n")

	key := SigningKey(s.Credentials.SecretKey, shortDate, s.Region, s.Service)
	return Signature{
		Value:            hex.EncodeToString(hmacSHA256(key, []byte(stringToSign))),
		AmzDate:          amzDate,
		CredentialScope:  scope,
		SignedHeaders:    signedHeaders,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
	}
}

// SignHTTP signs an outgoing request in place, setting X-Amz-Date and
// Authorization. payload must be the exact body that will be sent.
func (s *Signer) SignHTTP(r *http.Request, payload []byte, t time.Time) error {
	if r.URL == nil {
		return errors.New("request has no url")
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	sig := s.Sign(Request{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Headers: map[string]string{
			HeaderContentType: r.Header.Get("Content-Type"),
			HeaderHost:        host,
			HeaderAmzTarget:   r.Header.Get("X-Amz-Target"),
		},
		Payload: payload,
	}, t)
	r.Header.Set("X-Amz-Date", sig.AmzDate)
	r.Header.Set("Authorization", sig.Authorization(s.Credentials.AccessKey))
	return nil
}

// SigningKey derives the per-day signing key.
func SigningKey(secret, shortDate, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(shortDate))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(scopeTerminator))
}

func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
