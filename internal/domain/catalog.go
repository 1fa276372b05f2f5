package domain

// Topic describes a selectable digest topic.
type Topic struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	LabelEn string `json:"labelEn"`
	Icon    string `json:"icon"`
}

// Language describes a supported digest language.
type Language struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Flag  string `json:"flag"`
}

// DigestTopics is the catalog of topics offered to clients.
var DigestTopics = []Topic{
	{ID: "technology", Label: "Teknologi", LabelEn: "Technology", Icon: "🔧"},
	{ID: "business", Label: "Bisnis", LabelEn: "Business", Icon: "💼"},
	{ID: "sports", Label: "Olahraga", LabelEn: "Sports", Icon: "⚽"},
	{ID: "entertainment", Label: "Entertainment", LabelEn: "Entertainment", Icon: "🎬"},
	{ID: "science", Label: "Sains", LabelEn: "Science", Icon: "🔬"},
	{ID: "gaming", Label: "Gaming", LabelEn: "Gaming", Icon: "🎮"},
	{ID: "world", Label: "Berita Dunia", LabelEn: "World News", Icon: "🌍"},
	{ID: "indonesia", Label: "Berita Indonesia", LabelEn: "Indonesia News", Icon: "🇮🇩"},
}

// DigestLanguages is the fixed set of languages a digest can be written in.
var DigestLanguages = []Language{
	{Code: "id", Label: "Bahasa Indonesia", Flag: "🇮🇩"},
	{Code: "en", Label: "English", Flag: "🇺🇸"},
	{Code: "es", Label: "Español", Flag: "🇪🇸"},
	{Code: "zh", Label: "中文", Flag: "🇨🇳"},
	{Code: "ja", Label: "日本語", Flag: "🇯🇵"},
}
