package collector

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"text/template"
)

// compileTemplate parses a query template, grounded on the
// text/template usage pattern external alerting integrations in this
// corpus use for rendering outbound request bodies.
func compileTemplate(name, src string) (*template.Template, error) {
	return template.New(name).Parse(src)
}

// executeTemplate instantiates a compiled query template and returns
// its output, which is expected to already be valid JSON.
func executeTemplate(t interface{}, params map[string]interface{}) ([]byte, error) {
	tmpl, ok := t.(*template.Template)
	if !ok {
		return nil, errNotATemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errNotATemplate = errTemplate("cached value is not a compiled template")

type errTemplate string

func (e errTemplate) Error() string { return string(e) }

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// injectBackendRolesFilter adds a terms filter on the owner's backend
// roles to a rendered query body, the AD-variant security rewrite
// described in spec.md §4.3. The query is decoded generically since
// its shape is caller-defined.
func injectBackendRolesFilter(body []byte, roles []string) ([]byte, error) {
	if len(roles) == 0 {
		return body, nil
	}

	var query map[string]interface{}
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, err
	}

	filter := map[string]interface{}{
		"terms": map[string]interface{}{
			"backend_roles": roles,
		},
	}

	boolNode, _ := query["query"].(map[string]interface{})
	if boolNode == nil {
		query["query"] = map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{filter},
			},
		}
	} else {
		b, _ := boolNode["bool"].(map[string]interface{})
		if b == nil {
			b = map[string]interface{}{}
			boolNode["bool"] = b
		}
		existing, _ := b["filter"].([]interface{})
		b["filter"] = append(existing, filter)
	}

	return json.Marshal(query)
}
