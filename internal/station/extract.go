package station

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// ErrExtractionFailed is returned when a payload cannot be read as an XML
// document at all.
var ErrExtractionFailed = errors.New("extraction failed")

const (
	rootElement    = "response"
	currentSection = "current_weather"
)

// element is a minimal XML tree node: name, attributes, child elements.
// Text content is not needed by any metric and is dropped.
type element struct {
	name     string
	attrs    map[string]string
	children []*element
}

// child returns the single child called name. Missing or repeated children
// both report false, a repeated element has no unambiguous reading.
func (e *element) child(name string) (*element, bool) {
	var found *element
	for _, c := range e.children {
		if c.name != name {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = c
	}
	return found, found != nil
}

// Extract reads every known metric out of a feed payload.
//
// Each metric is looked up on its own; a metric whose path or attribute is
// missing is left out of the snapshot without affecting the others. Only a
// payload that is not a well-formed document yields ErrExtractionFailed.
// The returned snapshot is not stamped with a fetch time.
func Extract(payload []byte) (Snapshot, error) {
	root, err := parseTree(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	values := make(map[Metric]string, len(descriptors))
	for _, d := range descriptors {
		if v, ok := lookup(root, d); ok {
			values[d.Metric] = v
		}
	}
	return Snapshot{values: values}, nil
}

func lookup(root *element, d Descriptor) (string, bool) {
	if root.name != rootElement {
		return "", false
	}
	node, ok := root.child(currentSection)
	for _, name := range d.Path {
		if !ok {
			return "", false
		}
		node, ok = node.child(name)
	}
	if !ok {
		return "", false
	}
	v, ok := node.attrs[d.Attr]
	return v, ok
}

func parseTree(payload []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *element
		stack []*element
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("content after root element")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, errors.New("text outside root element")
			}
		}
	}

	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}
