package inference

// Gemini model IDs
//
// | Model Name               | API Model ID           | Use Case                       |
// |--------------------------|------------------------|--------------------------------|
// | Gemini 3 Pro (Preview)   | gemini-3-pro-preview   | Damage detection and estimates |
// | Gemini 3 Flash (Preview) | gemini-3-flash-preview | Side classification, key check |
// | Gemini 2.5 Pro           | gemini-2.5-pro         | Stable fallback                |
// | Gemini 2.5 Flash         | gemini-2.5-flash       | Stable, lower cost             |
// | Gemini Embedding 001     | gemini-embedding-001   | Case embeddings                |
const (
	ModelGemini3ProPreview   = "gemini-3-pro-preview"
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelEmbedding001        = "gemini-embedding-001"
)

// ValidationModel is the cheap model used to check an API key.
const ValidationModel = ModelGemini3FlashPreview

var generationModels = map[string]bool{
	ModelGemini3ProPreview:   true,
	ModelGemini3FlashPreview: true,
	ModelGemini25Pro:         true,
	ModelGemini25Flash:       true,
}

// KnownModel reports whether name is a generation model this service has
// been exercised against. Unknown names are still sent to the API.
func KnownModel(name string) bool {
	return generationModels[name]
}
