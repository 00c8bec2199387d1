package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/ghostrun/internal/models"
)

// ignoredTextElements never count as a visible-text match
const ignoredTextElements = "self::script or self::style or self::head or self::title or self::noscript"

// query translates a locator into a chromedp selector and query options.
// CSS selectors use querySelector; every other locator is an XPath run through DOM.performSearch.
func query(target models.Locator) (string, []chromedp.QueryOption, error) {
	switch l := target.(type) {
	case models.SelectorLocator:
		return l.Selector, []chromedp.QueryOption{chromedp.ByQuery}, nil
	case models.LabelLocator:
		return labelXPath(l.Label), []chromedp.QueryOption{chromedp.BySearch}, nil
	case models.TextLocator:
		return textXPath(l.Text, l.Exact), []chromedp.QueryOption{chromedp.BySearch}, nil
	case models.NameLocator:
		return nameXPath(l.Name), []chromedp.QueryOption{chromedp.BySearch}, nil
	case models.AltTextLocator:
		return "//*[@alt = " + xpathLiteral(l.AltText) + "]", []chromedp.QueryOption{chromedp.BySearch}, nil
	case nil:
		return "", nil, fmt.Errorf("no locator")
	}
	return "", nil, fmt.Errorf("unsupported locator %T", target)
}

// labelXPath matches controls referenced by a <label for>, nested in a label, or carrying aria-label
func labelXPath(label string) string {
	lit := xpathLiteral(label)
	labelled := fmt.Sprintf("//label[contains(normalize-space(.), %s)]", lit)
	return strings.Join([]string{
		fmt.Sprintf("//*[self::input or self::textarea or self::select][@id = %s/@for]", labelled),
		labelled + "//*[self::input or self::textarea or self::select]",
		fmt.Sprintf("//*[@aria-label = %s]", lit),
	}, " | ")
}

// textXPath matches the innermost element whose normalized text is or contains text
func textXPath(text string, exact bool) string {
	lit := xpathLiteral(text)
	predicate := fmt.Sprintf("contains(normalize-space(.), %s)", lit)
	if exact {
		predicate = fmt.Sprintf("normalize-space(.) = %s", lit)
	}
	return fmt.Sprintf("//body//*[not(%s)][%s][not(.//*[not(%s)][%s])]",
		ignoredTextElements, predicate, ignoredTextElements, predicate)
}

// nameXPath matches form fields by aria-label, name, placeholder or label text
func nameXPath(name string) string {
	lit := xpathLiteral(name)
	return fmt.Sprintf(
		"//*[self::input or self::textarea or self::select or self::button][@aria-label = %[1]s or @name = %[1]s or @placeholder = %[1]s or @id = //label[normalize-space(.) = %[1]s]/@for]",
		lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
