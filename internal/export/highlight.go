// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// highlight renders code as an HTML <pre> block with inline colors. The
// lexer comes from the fence language, then content analysis, then plain
// text. Escaped unhighlighted code is returned if chroma fails.
func highlight(code, language, theme string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "monokai"
	if theme == "light" {
		styleName = "github"
	}
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plainCode(code)
	}

	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4))
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return plainCode(code)
	}
	return buf.String()
}

func plainCode(code string) string {
	return fmt.Sprintf("<pre><code>%s</code></pre>", html.EscapeString(code))
}
