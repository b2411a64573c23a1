package history

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"crosscopy/models"
)

// ErrEmptyDocument is returned when decoding a zero-length document. An empty
// history encodes to a non-empty document, so this always indicates a caller bug.
var ErrEmptyDocument = errors.New("history: cannot decode an empty document")

// ErrUnencodable is returned when a phrase or item field holds text an XML
// document cannot carry unchanged: invalid UTF-8 or control characters other
// than tab, newline and carriage return.
var ErrUnencodable = errors.New("history: value cannot be stored in the history document")

type historyDocument struct {
	XMLName xml.Name        `xml:"history"`
	Secrets []secretElement `xml:"secret"`
}

type secretElement struct {
	Phrase string        `xml:"phrase,attr"`
	Items  []itemElement `xml:"dataitem"`
}

type itemElement struct {
	Data      string    `xml:"data,attr"`
	ID        string    `xml:"id,attr"`
	ItemPath  string    `xml:"itempath,attr,omitempty"`
	Date      time.Time `xml:"date,attr"`
	Direction int       `xml:"direction,attr"`
}

// Encode serializes the phrases and items of h. Listener counts and watch
// state are not part of the document.
func Encode(h *History) (string, error) {
	doc := historyDocument{}
	if h != nil {
		doc.Secrets = make([]secretElement, 0, len(h.Secrets))
		for _, secret := range h.Secrets {
			if err := checkAttr("phrase", secret.phrase); err != nil {
				return "", fmt.Errorf("encode history: %w", err)
			}
			elem := secretElement{Phrase: secret.phrase}
			for _, item := range secret.Items() {
				if err := CheckItem(item); err != nil {
					return "", fmt.Errorf("encode history: secret %q item %q: %w", secret.phrase, item.ID, err)
				}
				elem.Items = append(elem.Items, itemElement{
					Data:      item.Data,
					ID:        item.ID,
					ItemPath:  item.ItemPath,
					Date:      item.Date.UTC(),
					Direction: int(item.Direction()),
				})
			}
			doc.Secrets = append(doc.Secrets, elem)
		}
	}

	raw, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return xml.Header + string(raw), nil
}

// CheckItem reports whether item can be encoded without changing its text.
// The error wraps ErrUnencodable.
func CheckItem(item models.DataItem) error {
	if err := checkAttr("data", item.Data); err != nil {
		return err
	}
	if err := checkAttr("id", item.ID); err != nil {
		return err
	}
	return checkAttr("itempath", item.ItemPath)
}

func checkAttr(name, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrUnencodable, name)
	}
	for i, r := range value {
		if !isXMLChar(r) {
			return fmt.Errorf("%w: %s has character %U at byte %d", ErrUnencodable, name, r, i)
		}
	}
	return nil
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// Decode parses a document produced by Encode. The returned Secrets have no
// watcher attached and are not watching.
func Decode(document string) (*History, error) {
	if strings.TrimSpace(document) == "" {
		return nil, ErrEmptyDocument
	}

	var doc historyDocument
	if err := xml.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	h := NewHistory()
	for i, elem := range doc.Secrets {
		if strings.TrimSpace(elem.Phrase) == "" {
			return nil, fmt.Errorf("decode history: secret %d: %w", i, ErrEmptyPhrase)
		}
		secret := newDetachedSecret(elem.Phrase)
		for _, raw := range elem.Items {
			direction := models.Direction(raw.Direction)
			if !direction.Valid() {
				return nil, fmt.Errorf("decode history: secret %q: invalid direction %d", elem.Phrase, raw.Direction)
			}
			item := models.NewDataItem(raw.Data, direction, raw.Date)
			item.ID = raw.ID
			item.ItemPath = raw.ItemPath
			secret.appendItem(item)
		}
		h.Add(secret)
	}
	return h, nil
}
