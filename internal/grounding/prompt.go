package grounding

import (
	"fmt"
	"strings"
)

// topicPrompts expands catalog topic ids into search-friendly descriptions.
var topicPrompts = map[string]string{
	"technology":    "teknologi terbaru, AI, gadget, software, dan inovasi tech",
	"business":      "bisnis, ekonomi, startup, investasi, dan pasar saham",
	"sports":        "olahraga, sepakbola, basket, MotoGP, Formula 1, dan atletik",
	"entertainment": "film, musik, selebriti, Netflix, dan hiburan",
	"science":       "sains, penelitian, discovery, antariksa, dan penemuan ilmiah",
	"gaming":        "game, esports, PlayStation, Xbox, Nintendo, dan game mobile",
	"world":         "berita internasional, politik global, dan kejadian dunia",
	"indonesia":     "berita Indonesia, politik lokal, dan kejadian nasional",
}

// languageInstructions tells the model which language to write in.
var languageInstructions = map[string]string{
	"id": "Tulis semua dalam Bahasa Indonesia yang baik dan benar.",
	"en": "Write everything in clear and professional English.",
	"es": "Escribe todo en español claro y profesional.",
	"zh": "用清晰专业的中文写作。",
	"ja": "明確でプロフェッショナルな日本語で書いてください。",
}

const pingPrompt = "Apa berita teknologi terpenting hari ini? Berikan 3 headline singkat."

const digestPromptTemplate = `Kamu adalah asisten berita profesional. Tugas kamu adalah membuat ringkasan berita harian (Daily Digest).

TOPIK: %s

INSTRUKSI:
1. Cari dan rangkum 5-7 berita terpenting hari ini dari topik di atas
2. Untuk setiap berita, berikan:
   - Judul singkat (1 baris)
   - Ringkasan (2-3 kalimat)
   - Mengapa ini penting
3. Urutkan dari yang paling penting/relevan
4. %s
5. Format output dalam Markdown yang rapi
%s
FORMAT OUTPUT:
# 📰 Daily Digest - [Tanggal Hari Ini]

## 1. [Judul Berita 1]
[Ringkasan]
**Mengapa penting:** [Penjelasan singkat]

## 2. [Judul Berita 2]
...

---
*Digest ini dibuat otomatis oleh Vortex AI*
`

// TopicDescription returns the prompt text for a topic id; unknown ids are
// used verbatim.
func TopicDescription(topic string) string {
	if d, ok := topicPrompts[topic]; ok {
		return d
	}
	return topic
}

// LanguageInstruction returns the writing instruction for a language code,
// falling back to Indonesian.
func LanguageInstruction(lang string) string {
	if s, ok := languageInstructions[lang]; ok {
		return s
	}
	return languageInstructions["id"]
}

// BuildPrompt renders the digest prompt for the given selection.
func BuildPrompt(topics []string, lang, customPrompt string) string {
	descs := make([]string, 0, len(topics))
	for _, t := range topics {
		descs = append(descs, TopicDescription(t))
	}
	extra := ""
	if c := strings.TrimSpace(customPrompt); c != "" {
		extra = "6. Instruksi tambahan: " + c + "\n"
	}
	return fmt.Sprintf(digestPromptTemplate, strings.Join(descs, ", "), LanguageInstruction(lang), extra)
}

// Title builds the digest title from at most the first three topics.
func Title(topics []string) string {
	if len(topics) > 3 {
		topics = topics[:3]
	}
	return "Daily Digest: " + strings.Join(topics, ", ")
}
