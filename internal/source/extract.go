package source

import (
	"bufio"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// TextPrefix is the only line shape accepted from plain-text lists.
	TextPrefix = "https://t.me/proxy?"

	// BaseHost is prefixed to relative "/proxy?..." hrefs found in HTML pages.
	BaseHost = "https://t.me"

	markerRelative = "/proxy?"
	markerScheme   = "tg://proxy?"
)

// ExtractText keeps trimmed lines starting with TextPrefix and adds them to set.
// It returns how many lines matched (including ones already in set).
func ExtractText(body string, set *LinkSet) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, TextPrefix) {
			continue
		}
		set.Add(line)
		n++
	}
	return n
}

// MatchHref reports whether an anchor href is a proxy link and returns it in
// absolute form.
func MatchHref(href string) (Link, bool) {
	href = strings.TrimSpace(href)
	if !strings.Contains(href, markerRelative) && !strings.Contains(href, markerScheme) {
		return "", false
	}
	if strings.HasPrefix(href, markerRelative) {
		return BaseHost + href, true
	}
	return href, true
}

// ExtractHTML walks every anchor in body and adds proxy hrefs to set.
// It returns how many anchors matched.
func ExtractHTML(body string, set *LinkSet) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	n := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if link, ok := MatchHref(href); ok {
			set.Add(link)
			n++
		}
	})
	return n, nil
}
