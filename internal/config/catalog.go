package config

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// Category is one entry of the closed set of report categories.
type Category struct {
	Label string `json:"label" yaml:"label"`
	Emoji string `json:"emoji" yaml:"emoji"`
}

// Button is the keyboard text shown for the category.
func (c Category) Button() string {
	if strings.TrimSpace(c.Emoji) == "" {
		return c.Label
	}
	return c.Emoji + " " + c.Label
}

// Catalog holds the user-facing texts and the category set. The fields can be
// customized via the catalog section of config.yaml.
type Catalog struct {
	Categories        []Category `json:"categories" yaml:"categories"`
	MenuPrompt        string     `json:"menu_prompt" yaml:"menu_prompt"`
	ReportButton      string     `json:"report_button" yaml:"report_button"`
	InfoButton        string     `json:"info_button" yaml:"info_button"`
	PrivacyButton     string     `json:"privacy_button" yaml:"privacy_button"`
	InfoText          string     `json:"info_text" yaml:"info_text"`
	PrivacyText       string     `json:"privacy_text" yaml:"privacy_text"`
	MenuFallback      string     `json:"menu_fallback" yaml:"menu_fallback"`
	CategoryPrompt    string     `json:"category_prompt" yaml:"category_prompt"`
	CategoryRetry     string     `json:"category_retry" yaml:"category_retry"`
	CategorySelected  string     `json:"category_selected" yaml:"category_selected"`
	PhotoRetry        string     `json:"photo_retry" yaml:"photo_retry"`
	LocationPrompt    string     `json:"location_prompt" yaml:"location_prompt"`
	LocationButton    string     `json:"location_button" yaml:"location_button"`
	LocationRetry     string     `json:"location_retry" yaml:"location_retry"`
	DescriptionPrompt string     `json:"description_prompt" yaml:"description_prompt"`
	SkipButton        string     `json:"skip_button" yaml:"skip_button"`
	DescriptionRetry  string     `json:"description_retry" yaml:"description_retry"`
	Completed         string     `json:"completed" yaml:"completed"`
	Cancelled         string     `json:"cancelled" yaml:"cancelled"`
}

// DefaultCatalog returns the baked-in Italian texts used by the park bot.
func DefaultCatalog() Catalog {
	return Catalog{
		Categories: []Category{
			{Label: "Sentieri e Segnaletica", Emoji: "🥾"},
			{Label: "Rifiuti e Decoro", Emoji: "🗑️"},
			{Label: "Fauna e Flora", Emoji: "🐾"},
			{Label: "Strutture e Bivacchi", Emoji: "⚒️"},
			{Label: "Altro", Emoji: "❓"},
		},
		MenuPrompt:    "Benvenuto! Seleziona un'opzione:",
		ReportButton:  "📢 Invia Segnalazione",
		InfoButton:    "📖 Istruzioni & Info",
		PrivacyButton: "⚖️ Privacy",
		InfoText: "Invia segnalazioni tramite foto e posizione GPS. Puoi aggiungere una breve descrizione.\n" +
			"ATTENZIONE: Non è un servizio di emergenza. Per soccorso alpino chiama 112.",
		PrivacyText: "Il Parco informa che i dati raccolti (foto, GPS, testi, ID Telegram) " +
			"sono utilizzati solo per la gestione delle segnalazioni. Conservazione limitata e anonimizzazione.\n" +
			"Per cancellare la segnalazione scrivere a info@pnab.it.",
		MenuFallback:      "Seleziona un pulsante dal menu principale.",
		CategoryPrompt:    "Seleziona la categoria della segnalazione:",
		CategoryRetry:     "Categoria non valida. Seleziona una delle categorie proposte.",
		CategorySelected:  "Hai selezionato: {category}\nOra invia una foto della segnalazione.",
		PhotoRetry:        "Devi inviare una foto!",
		LocationPrompt:    "Foto ricevuta! Ora invia la posizione.",
		LocationButton:    "📍 Invia posizione",
		LocationRetry:     "Devi inviare la posizione!",
		DescriptionPrompt: "Perfetto! Ora puoi aggiungere una breve descrizione (opzionale).",
		SkipButton:        "⏭️ Nessuna descrizione",
		DescriptionRetry:  "Scrivi una breve descrizione oppure premi il pulsante per saltare.",
		Completed:         "Grazie! La tua segnalazione è stata registrata.\nVuoi inviarne un'altra?",
		Cancelled:         "Segnalazione annullata.",
	}
}

// LoadCatalog reads YAML/JSON and merges the catalog section over the defaults.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	data, err := os.ReadFile(path)
	if err != nil {
		return cat, err
	}
	if len(data) == 0 {
		return cat, errors.New("empty config file")
	}
	var parsed struct {
		Catalog Catalog `json:"catalog" yaml:"catalog"`
	}
	if err := decodeFile(path, data, &parsed); err != nil {
		return cat, err
	}
	return MergeCatalog(cat, parsed.Catalog), nil
}

// MergeCatalog overlays non-empty fields onto the base catalog. A non-empty
// category list replaces the base list entirely.
func MergeCatalog(base, override Catalog) Catalog {
	if cats := cleanCategories(override.Categories); len(cats) > 0 {
		base.Categories = cats
	}
	overlay := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	overlay(&base.MenuPrompt, override.MenuPrompt)
	overlay(&base.ReportButton, override.ReportButton)
	overlay(&base.InfoButton, override.InfoButton)
	overlay(&base.PrivacyButton, override.PrivacyButton)
	overlay(&base.InfoText, override.InfoText)
	overlay(&base.PrivacyText, override.PrivacyText)
	overlay(&base.MenuFallback, override.MenuFallback)
	overlay(&base.CategoryPrompt, override.CategoryPrompt)
	overlay(&base.CategoryRetry, override.CategoryRetry)
	overlay(&base.CategorySelected, override.CategorySelected)
	overlay(&base.PhotoRetry, override.PhotoRetry)
	overlay(&base.LocationPrompt, override.LocationPrompt)
	overlay(&base.LocationButton, override.LocationButton)
	overlay(&base.LocationRetry, override.LocationRetry)
	overlay(&base.DescriptionPrompt, override.DescriptionPrompt)
	overlay(&base.SkipButton, override.SkipButton)
	overlay(&base.DescriptionRetry, override.DescriptionRetry)
	overlay(&base.Completed, override.Completed)
	overlay(&base.Cancelled, override.Cancelled)
	return base
}

func cleanCategories(in []Category) []Category {
	var out []Category
	seen := map[string]struct{}{}
	for _, c := range in {
		c.Label = strings.TrimSpace(c.Label)
		c.Emoji = strings.TrimSpace(c.Emoji)
		if c.Label == "" {
			continue
		}
		if _, dup := seen[c.Label]; dup {
			continue
		}
		seen[c.Label] = struct{}{}
		out = append(out, c)
	}
	return out
}

// MatchCategory maps keyboard or typed text to a category label. Both the
// button text and the bare label are accepted.
func (c Catalog) MatchCategory(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, cat := range c.Categories {
		if text == cat.Label || text == cat.Button() {
			return cat.Label, true
		}
	}
	return "", false
}

// CategoryButtons returns the keyboard texts in catalog order.
func (c Catalog) CategoryButtons() []string {
	out := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		out = append(out, cat.Button())
	}
	return out
}

// SelectedText renders the confirmation shown after a category is chosen.
func (c Catalog) SelectedText(label string) string {
	return strings.ReplaceAll(c.CategorySelected, "{category}", label)
}

// LiveCatalog is a catalog that can be swapped while the bot runs.
type LiveCatalog struct {
	mu  sync.RWMutex
	cat Catalog
}

func NewLiveCatalog(cat Catalog) *LiveCatalog {
	return &LiveCatalog{cat: cat}
}

// Catalog returns the current catalog.
func (l *LiveCatalog) Catalog() Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cat
}

// Replace installs a new catalog.
func (l *LiveCatalog) Replace(cat Catalog) {
	l.mu.Lock()
	l.cat = cat
	l.mu.Unlock()
}
