package filter

// languageByExtension maps a lower-cased, dot-less extension to the stable
// language tag returned alongside a candidate path. Keys are exactly the
// code-file whitelist.
var languageByExtension = map[string]string{
	"rs":     "rust",
	"py":     "python",
	"js":     "javascript",
	"ts":     "typescript",
	"jsx":    "javascript",
	"tsx":    "typescript",
	"go":     "go",
	"java":   "java",
	"c":      "c",
	"cc":     "cpp",
	"cpp":    "cpp",
	"h":      "c",
	"hpp":    "cpp",
	"cs":     "csharp",
	"rb":     "ruby",
	"php":    "php",
	"swift":  "swift",
	"kt":     "kotlin",
	"scala":  "scala",
	"sh":     "shell",
	"bash":   "shell",
	"zsh":    "shell",
	"sql":    "sql",
	"md":     "markdown",
	"yaml":   "yaml",
	"yml":    "yaml",
	"json":   "json",
	"toml":   "toml",
	"xml":    "xml",
	"html":   "html",
	"css":    "css",
	"scss":   "scss",
	"vue":    "vue",
	"svelte": "svelte",
}

// Whitelist returns the set of extensions languageByExtension recognizes.
func Whitelist() []string {
	exts := make([]string, 0, len(languageByExtension))
	for ext := range languageByExtension {
		exts = append(exts, ext)
	}
	return exts
}

// LanguageForExtension returns the stable language tag for a lower-cased,
// dot-less extension, and whether it is recognized at all.
func LanguageForExtension(ext string) (string, bool) {
	lang, ok := languageByExtension[ext]
	return lang, ok
}
