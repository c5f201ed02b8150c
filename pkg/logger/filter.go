package logger

import (
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output
const DefaultMaskValue = "***"

// FilterConfig defines which field names are masked
type FilterConfig struct {
	// SensitiveFields are matched case-insensitively as substrings of the field name
	SensitiveFields []string
	MaskValue       string
}

// DefaultFilterConfig masks credentials that pass through an HTTP client
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "secret", "token", "authorization", "auth", "api_key", "api-key", "apikey", "cookie",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks field values whose names look like credentials
type SensitiveDataFilter struct {
	config *FilterConfig
}

// NewSensitiveDataFilter creates a filter; a nil config uses DefaultFilterConfig
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if config.MaskValue == "" {
		config.MaskValue = DefaultMaskValue
	}
	return &SensitiveDataFilter{config: config}
}

// FilterString masks value when key is sensitive. URLs have their user
// password and sensitive query parameters masked wherever they appear.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if value == "" {
		return value
	}
	if f.isSensitiveField(key) {
		return f.config.MaskValue
	}
	if strings.Contains(value, "://") {
		return f.maskURL(value)
	}
	return value
}

// FilterFields returns a copy of fields with sensitive string values masked
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			out[k] = f.FilterString(k, val)
		default:
			if f.isSensitiveField(k) {
				out[k] = f.config.MaskValue
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func (f *SensitiveDataFilter) isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range f.config.SensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (f *SensitiveDataFilter) maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	query, queryMasked := f.maskQuery(u.RawQuery)
	_, hasPassword := u.User.Password()
	if !hasPassword && !queryMasked {
		return raw
	}
	u.RawQuery = query
	if !hasPassword {
		return u.String()
	}
	return f.buildMaskedURL(u, u.User.Username())
}

// maskQuery masks sensitive parameters in place, keeping their order and the
// mask unescaped
func (f *SensitiveDataFilter) maskQuery(raw string) (string, bool) {
	if raw == "" {
		return raw, false
	}

	pairs := strings.Split(raw, "&")
	masked := false
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if name, err := url.QueryUnescape(key); err == nil && f.isSensitiveField(name) {
			pairs[i] = key + "=" + f.config.MaskValue
			masked = true
		}
	}
	return strings.Join(pairs, "&"), masked
}

// buildMaskedURL writes u with its password replaced by the mask
func (f *SensitiveDataFilter) buildMaskedURL(u *url.URL, username string) string {
	var b strings.Builder

	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(url.User(username).String())
	b.WriteByte(':')
	b.WriteString(f.config.MaskValue)
	b.WriteByte('@')
	b.WriteString(u.Host)

	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if frag := u.EscapedFragment(); frag != "" {
		b.WriteByte('#')
		b.WriteString(frag)
	}
	return b.String()
}
