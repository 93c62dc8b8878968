package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
)

const maxBodyBytes = 1 << 20

// params is a flat view over request parameters from every source a caller
// may use.
type params map[string]any

// first returns the first non-empty value among the aliases.
func (p params) first(aliases ...string) string {
	for _, k := range aliases {
		if s := stringValue(p[k]); s != "" {
			return s
		}
	}
	return ""
}

// data returns a nested "data" object when the JSON body carried one.
func (p params) data() map[string]any {
	d, _ := p["data"].(map[string]any)
	return d
}

// strings flattens p for consumers that only care about string values.
func (p params) strings() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if s := stringValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}

func stringValue(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(tv)
	}
}

// requestBody holds the decoded body: form fields for form encodings and an
// object for JSON. A body that is not a JSON object leaves jsonBody nil.
type requestBody struct {
	form     map[string]string
	jsonBody map[string]any
}

func readBody(r *http.Request) (requestBody, error) {
	var body requestBody
	if r.Body == nil {
		return body, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return body, fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err == nil {
			body.form = flatten(r.PostForm)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err == nil {
			body.form = flatten(r.PostForm)
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			body.jsonBody = obj
		}
	}
	return body, nil
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// sendParams merges the query string, then form fields, then the JSON body.
// Later sources win.
func sendParams(r *http.Request) (params, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	p := params{}
	for k, v := range flatten(r.URL.Query()) {
		p[k] = v
	}
	for k, v := range body.form {
		p[k] = v
	}
	for k, v := range body.jsonBody {
		p[k] = v
	}
	return p, nil
}

// bodyParams prefers a JSON object body and falls back to form fields.
func bodyParams(r *http.Request) (params, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	p := params{}
	if len(body.jsonBody) > 0 {
		for k, v := range body.jsonBody {
			p[k] = v
		}
		return p, nil
	}
	for k, v := range body.form {
		p[k] = v
	}
	return p, nil
}
