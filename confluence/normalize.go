package confluence

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/foomo/confluence-mcp/service/vo"
	"golang.org/x/net/html"
)

// AttachmentToken replaces attachment and view-file macros in the output.
const AttachmentToken = "[ATTACHMENT]"

const macroTag = "ac:structured-macro"

type codeBlock struct {
	language string
	code     string
}

// ToDocument converts one page into a normalized document. It is a pure
// function and never fails: malformed macro markup passes through as
// literal text instead of raising an error.
func ToDocument(page vo.Page, baseURL, spaceKey string) vo.Document {
	stripped, blocks := extractMacros(page.Body.Storage.Value)

	text, err := htmltomarkdown.ConvertString(stripped)
	if err != nil {
		// degrade to the macro-stripped source rather than dropping the page
		text = stripped
	}

	// the converter escapes markdown-significant characters in running text;
	// brackets may come back fully or only opening-escaped
	text = strings.ReplaceAll(text, `CODE\_BLOCK\_`, "CODE_BLOCK_")
	text = strings.ReplaceAll(text, `\[ATTACHMENT\]`, AttachmentToken)
	text = strings.ReplaceAll(text, `\[ATTACHMENT]`, AttachmentToken)
	for i, block := range blocks {
		fenced := fmt.Sprintf("```%s\n%s\n```", block.language, block.code)
		text = strings.Replace(text, codePlaceholder(i), fenced, 1)
	}

	return vo.Document{
		PageContent: stripBlankLines(text),
		Metadata:    pageMetadata(page, baseURL, spaceKey),
	}
}

// extractMacros makes a single token-filter pass over the storage-format
// HTML. Attachment and view-file macros become AttachmentToken, code macros
// are pulled out into an ordered list and replaced by placeholder tokens so
// the markdown conversion cannot mangle their whitespace. Everything else
// is written back byte for byte.
//
// The storage format self-closes elements the HTML5 tree builder does not
// know, so building a tree with html.Parse would mis-nest siblings into
// macro bodies; the tokenizer reports SelfClosingTagToken correctly.
func extractMacros(storage string) (string, []codeBlock) {
	z := html.NewTokenizer(strings.NewReader(storage))
	z.AllowCDATA(true)

	var out strings.Builder
	var blocks []codeBlock
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}

		raw := append([]byte(nil), z.Raw()...)
		name, macroName := tagAndMacroName(z)
		if name != macroTag {
			out.Write(raw)
			continue
		}

		switch macroName {
		case "attachments", "view-file":
			out.WriteString(AttachmentToken)
			if tt == html.StartTagToken {
				skipElement(z, macroTag)
			}
		case "code":
			if tt == html.SelfClosingTagToken {
				// no language parameter, no body: not a code macro we extract
				out.Write(raw)
				continue
			}
			block, consumed, ok := readCodeMacro(z)
			if !ok {
				out.Write(raw)
				out.Write(consumed)
				continue
			}
			out.WriteString(codePlaceholder(len(blocks)))
			blocks = append(blocks, block)
		default:
			out.Write(raw)
		}
	}
	return out.String(), blocks
}

// tagAndMacroName reads the current tag token's name and its ac:name
// attribute value.
func tagAndMacroName(z *html.Tokenizer) (tag string, macroName string) {
	name, hasAttr := z.TagName()
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) == "ac:name" {
			macroName = string(val)
		}
	}
	return string(name), macroName
}

// skipElement consumes tokens through the end tag matching an already-read
// start tag of the given name.
func skipElement(z *html.Tokenizer, name string) {
	depth := 1
	for depth > 0 {
		switch z.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken:
			if tag, _ := z.TagName(); string(tag) == name {
				depth++
			}
		case html.EndTagToken:
			if tag, _ := z.TagName(); string(tag) == name {
				depth--
			}
		}
	}
}

// readCodeMacro consumes the body of a code macro whose start tag has
// already been read. A well-formed macro has a language parameter and a
// CDATA plain-text body; anything else reports !ok and the caller writes
// the consumed bytes back out as literal markup.
func readCodeMacro(z *html.Tokenizer) (block codeBlock, consumed []byte, ok bool) {
	var langFound, bodyFound bool
	var inLangParam, inBody bool
	depth := 1

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return codeBlock{}, consumed, false
		}
		consumed = append(consumed, z.Raw()...)

		switch tt {
		case html.StartTagToken:
			tag, macroName := tagAndMacroName(z)
			switch tag {
			case macroTag:
				depth++
			case "ac:parameter":
				if macroName == "language" {
					inLangParam = true
					langFound = true
				}
			case "ac:plain-text-body":
				inBody = true
				bodyFound = true
			}
		case html.TextToken:
			if inLangParam {
				block.language += string(z.Text())
			} else if inBody {
				block.code += string(z.Text())
			}
		case html.EndTagToken:
			tag, _ := z.TagName()
			switch string(tag) {
			case "ac:parameter":
				inLangParam = false
			case "ac:plain-text-body":
				inBody = false
			case macroTag:
				depth--
				if depth == 0 {
					if langFound && bodyFound {
						block.language = strings.TrimSpace(block.language)
						return block, consumed, true
					}
					return codeBlock{}, consumed, false
				}
			}
		}
	}
}

func codePlaceholder(i int) string {
	return fmt.Sprintf("CODE_BLOCK_%d", i)
}

func stripBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func pageMetadata(page vo.Page, baseURL, spaceKey string) vo.Metadata {
	md := vo.Metadata{
		"id":     page.ID,
		"status": page.Status,
		"title":  page.Title,
		"type":   page.Type,
		"url":    fmt.Sprintf("%s/spaces/%s/pages/%s", trimSlash(baseURL), spaceKey, page.ID),
	}
	if v := page.Version; v != nil {
		md["version"] = v.Number
		md["updated_at"] = v.When
		if v.By != nil {
			md["updated_by"] = v.By.DisplayName
		}
	}
	return md
}
