package processor

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"

	"github.com/pkg/errors"
)

// tailScanLen bounds the backward scan for the buffer's trailing JSON
// object.
const tailScanLen = 8192

// wfcatalogAppender merges WFCatalog JSON arrays: the enclosing brackets are
// stripped and an object repeated at a piece boundary is dropped. Boundary
// objects are compared decoded, since endpoints do not guarantee stable key
// order.
type wfcatalogAppender struct{}

func (wfcatalogAppender) append(body io.Reader, buf *payloadBuffer) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	content := bytes.TrimSpace(raw)
	if len(content) < 2 || content[0] != '[' || content[len(content)-1] != ']' {
		return errors.New("malformed WFCatalog payload")
	}
	content = bytes.TrimSpace(content[1 : len(content)-1])
	if len(content) == 0 {
		return nil
	}

	if buf.Len() == 0 {
		_, err := buf.Write(content)
		return err
	}

	if firstObj := firstJSONObject(content); firstObj != nil {
		tail, err := buf.Tail(tailScanLen)
		if err != nil {
			return err
		}
		if lastObj := lastJSONObject(tail); lastObj != nil && jsonEqual(lastObj, firstObj) {
			content = bytes.TrimSpace(content[len(firstObj):])
			content = bytes.TrimSpace(bytes.TrimPrefix(content, []byte{','}))
		}
	}
	if len(content) == 0 {
		return nil
	}
	if _, err := buf.Write([]byte{','}); err != nil {
		return err
	}
	_, err = buf.Write(content)
	return err
}

// firstJSONObject returns the object content starts with, or nil.
func firstJSONObject(content []byte) []byte {
	if len(content) == 0 || content[0] != '{' {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i, c := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[:i+1]
			}
		}
	}
	return nil
}

// lastJSONObject returns the trailing object of tail, or nil when tail does
// not end with a complete object. The backward scan counts braces without
// string awareness; WFCatalog values never contain them.
func lastJSONObject(tail []byte) []byte {
	tail = bytes.TrimRight(tail, " \t\r\n")
	if len(tail) == 0 || tail[len(tail)-1] != '}' {
		return nil
	}
	depth := 0
	for i := len(tail) - 1; i >= 0; i-- {
		switch tail[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return tail[i:]
			}
		}
	}
	return nil
}

// jsonEqual compares two serialized objects by decoded value.
func jsonEqual(a, b []byte) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
