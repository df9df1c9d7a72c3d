package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/booksnap/booksnap/internal/http"
	"github.com/booksnap/booksnap/internal/model"
)

// shplPageURL serves the full-size (zoom level 6) image for one page id.
const shplPageURL = "%s/pages/%s/zooms/6"

// Shpl is the source strategy for elib.shpl.ru (State Public Historical
// Library).
//
// Page images are plain JPEGs, but the server is aggressive about
// throttling, so the policy serializes fetches with a long delay.
type Shpl struct {
	client  *http.Client
	baseURL string
}

// NewShpl creates the elib.shpl.ru strategy.
func NewShpl(client *http.Client) *Shpl {
	return &Shpl{client: client, baseURL: "http://elib.shpl.ru"}
}

// Tag implements Strategy.
func (s *Shpl) Tag() string { return "shpl" }

// CanHandle implements Strategy.
func (s *Shpl) CanHandle(bookURL string) bool {
	return strings.Contains(bookURL, "elib.shpl.ru")
}

// Policy implements Strategy. One request at a time, 90s apart; anything
// faster gets the client banned.
func (s *Shpl) Policy() Policy {
	return Policy{MaxConcurrent: 1, RequestDelay: 90 * time.Second}
}

// ResolveID implements Strategy. Node URLs look like
// http://elib.shpl.ru/ru/nodes/13552-...; the node id is the last path
// segment.
func (s *Shpl) ResolveID(bookURL string) (model.BookID, error) {
	u, err := url.Parse(bookURL)
	if err != nil {
		return model.BookID{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	nodeID := lastPathSegment(u.Path)
	if nodeID == "" {
		return model.BookID{}, fmt.Errorf("%w: no node id in %s", ErrInvalidURL, bookURL)
	}
	return model.BookID{Source: s.Tag(), ItemID: nodeID}, nil
}

// FetchMetadata implements Strategy.
func (s *Shpl) FetchMetadata(ctx context.Context, bookURL string) (*model.Metadata, error) {
	html, err := s.client.GetString(ctx, bookURL)
	if err != nil {
		return nil, fmt.Errorf("fetch node page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse node page: %w", err)
	}

	title := tableValue(doc, "Заглавие")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	author := tableValue(doc, "Автор")
	year := tableValue(doc, "Год издания")

	ids, err := parsePageIDs(html)
	if err != nil {
		return nil, err
	}

	pages := make([]model.PageRef, 0, len(ids))
	for _, id := range ids {
		pages = append(pages, model.PageRef(id))
	}

	return &model.Metadata{
		Title:  title,
		Author: author,
		Year:   year,
		Pages:  pages,
	}, nil
}

// FetchPage implements Strategy.
func (s *Shpl) FetchPage(ctx context.Context, ref model.PageRef, destPath string) error {
	return s.client.DownloadFile(ctx, fmt.Sprintf(shplPageURL, s.baseURL, ref), destPath)
}

// tableValue reads the description table: the td holding key is followed
// by a sibling td with the value, possibly with a parenthesized suffix.
func tableValue(doc *goquery.Document, key string) string {
	var value string
	doc.Find("td").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.TrimSpace(sel.Text()) != key {
			return true
		}
		value = sel.Next().Text()
		return false
	})
	value, _, _ = strings.Cut(value, "(")
	return strings.TrimSpace(value)
}

// parsePageIDs extracts the page ids from the zoom-level map the viewer
// embeds in the page: `"links_z0":{"<id>":[...], ...}`. Object key order
// is the reading order, so decoding goes through a token stream rather
// than a map.
func parsePageIDs(html string) ([]string, error) {
	_, frag, found := strings.Cut(html, `links_z0":{`)
	if !found {
		return nil, fmt.Errorf("no page map in node page")
	}
	frag, _, found = strings.Cut(frag, "}")
	if !found {
		return nil, fmt.Errorf("unterminated page map in node page")
	}

	dec := json.NewDecoder(strings.NewReader("{" + frag + "}"))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse page map: %w", err)
	}

	var ids []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse page map: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("parse page map: unexpected token %v", tok)
		}
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, fmt.Errorf("parse page map: %w", err)
		}
		ids = append(ids, key)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("page map lists no pages")
	}
	return ids, nil
}
