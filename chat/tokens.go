package chat

import (
	"regexp"

	"github.com/kicklite/kicklite/emotes"
)

// TokenKind discriminates the Token variants.
type TokenKind int

const (
	// TokenText is a literal text run, including whitespace runs.
	TokenText TokenKind = iota
	// TokenEmote is an inline image standing in for an emote name.
	TokenEmote
)

// Token is one render unit of a chat message: either a text run or an emote
// with its image URL. Tokens are produced at render time and never persisted.
type Token struct {
	Kind     TokenKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Emote    string    `json:"emote,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	leadingPunct  = regexp.MustCompile(`^[^\w:()]+`)
	trailingPunct = regexp.MustCompile(`[^\w:()]+$`)
)

// Tokenize splits text into text/emote tokens against a catalog snapshot.
// Whitespace runs are preserved as their own text tokens so rendering
// reproduces the original spacing. A word whose punctuation-stripped core
// matches a catalog entry becomes leading text (if any), the emote, and
// trailing text (if any); anything else passes through verbatim. Pure and
// deterministic; an empty input yields nil.
func Tokenize(text string, catalog emotes.Catalog) []Token {
	if text == "" {
		return nil
	}

	var out []Token
	pos := 0
	for _, loc := range whitespaceRun.FindAllStringIndex(text, -1) {
		if loc[0] > pos {
			out = appendWord(out, text[pos:loc[0]], catalog)
		}
		out = append(out, Token{Kind: TokenText, Text: text[loc[0]:loc[1]]})
		pos = loc[1]
	}
	if pos < len(text) {
		out = appendWord(out, text[pos:], catalog)
	}
	return out
}

func appendWord(out []Token, word string, catalog emotes.Catalog) []Token {
	leading := leadingPunct.FindString(word)
	core := word[len(leading):]
	trailing := trailingPunct.FindString(core)
	core = core[:len(core)-len(trailing)]

	url, ok := catalog[core]
	if !ok || core == "" {
		return append(out, Token{Kind: TokenText, Text: word})
	}
	if leading != "" {
		out = append(out, Token{Kind: TokenText, Text: leading})
	}
	out = append(out, Token{Kind: TokenEmote, Emote: core, ImageURL: url})
	if trailing != "" {
		out = append(out, Token{Kind: TokenText, Text: trailing})
	}
	return out
}
