package chat

// Language describes one entry of the closed set of languages the service
// accepts for voice messages.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

const DefaultLanguage = "en"

var supportedLanguages = []Language{
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "de", Name: "German", NativeName: "Deutsch"},
	{Code: "it", Name: "Italian", NativeName: "Italiano"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português"},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
}

var languageCodes = func() map[string]struct{} {
	codes := make(map[string]struct{}, len(supportedLanguages))
	for _, l := range supportedLanguages {
		codes[l.Code] = struct{}{}
	}
	return codes
}()

// Languages returns the supported language set in display order.
func Languages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// SupportedLanguage reports whether code is in the supported set.
func SupportedLanguage(code string) bool {
	_, ok := languageCodes[code]
	return ok
}
