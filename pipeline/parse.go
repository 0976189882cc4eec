package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/dhcgn/receipt-watcher/model"
)

var (
	ErrNoArray = errors.New("no JSON array found in response")

	fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	firstArray  = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)
	arrayOfObjs = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// ParseLineItems finds the JSON array of line items in a service response.
// The whole response is tried first, then fenced code blocks, then the
// first bracketed array of objects in the text, then the widest one. Each candidate that fails
// strict decoding is retried once after stripping comments and trailing
// commas.
func ParseLineItems(text string) ([]model.LineItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoArray
	}

	var candidates []string
	candidates = append(candidates, text)
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	for _, re := range []*regexp.Regexp{firstArray, arrayOfObjs} {
		if m := re.FindString(text); m != "" {
			candidates = append(candidates, m)
		}
	}

	var lastErr error
	for _, c := range candidates {
		items, err := decodeArray(c)
		if err == nil {
			return items, nil
		}
		lastErr = err
	}
	if len(candidates) == 1 {
		return nil, ErrNoArray
	}
	return nil, fmt.Errorf("%w: %v", ErrNoArray, lastErr)
}

func decodeArray(s string) ([]model.LineItem, error) {
	if !strings.HasPrefix(s, "[") {
		return nil, fmt.Errorf("candidate is not an array")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		if err2 := json.Unmarshal(jsonc.ToJSON([]byte(s)), &elems); err2 != nil {
			return nil, err
		}
	}

	items := make([]model.LineItem, 0, len(elems))
	for i, elem := range elems {
		item, err := decodeItem(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(data json.RawMessage) (model.LineItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return model.LineItem{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		compact.Reset()
		compact.Write(data)
	}

	return model.LineItem{
		Date:        scalar(fields["date"]),
		Description: scalar(fields["description"]),
		Amount:      scalar(fields["amount"]),
		Category:    scalar(fields["category"]),
		Property:    scalar(fields["property"]),
		Raw:         compact.String(),
	}, nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
