package content

import "strings"

// DefaultLanguage applies to groups without a language.
const DefaultLanguage = "en"

var greetings = map[string]string{
	"en": "Good Morning!",
	"hi": "सुप्रभात!",
	"ta": "காலை வணக்கம்!",
	"bn": "শুভ সকাল!",
	"ar": "صباح الخير!",
	"es": "¡Buenos días!",
	"fr": "Bonjour !",
	"de": "Guten Morgen!",
}

// Languages lists the supported language codes in display order.
var Languages = []string{"en", "hi", "ta", "bn", "ar", "es", "fr", "de"}

// NormalizeLanguage lower-cases a code and strips a region subtag ("pt-BR",
// "en_US" become "pt", "en"). Anything whose primary subtag is not two
// letters is returned lower-cased and unchanged, so it never matches a
// supported language.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	primary, _, _ := strings.Cut(strings.ReplaceAll(code, "_", "-"), "-")
	if len(primary) != 2 || !isASCIILetters(primary) {
		return code
	}
	return primary
}

func isASCIILetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// SupportedLanguage reports whether code has a localized greeting.
func SupportedLanguage(code string) bool {
	_, ok := greetings[NormalizeLanguage(code)]
	return ok
}

// Greeting returns the localized "Good Morning!" header, prefixed with the
// sunrise emoji. Unknown languages fall back to English.
func Greeting(lang string) string {
	g, ok := greetings[NormalizeLanguage(lang)]
	if !ok {
		g = greetings[DefaultLanguage]
	}
	return "🌅 " + g
}

// FormatQuote renders a quote as the daily greeting text.
func FormatQuote(lang string, q Quote) string {
	var b strings.Builder
	b.WriteString(Greeting(lang))
	b.WriteString("\n\n“")
	b.WriteString(strings.TrimSpace(q.Text))
	b.WriteString("”")
	if a := strings.TrimSpace(q.Author); a != "" {
		b.WriteString("\n— ")
		b.WriteString(a)
	}
	return b.String()
}
