package completion_client

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	ChatCompletionsEndpoint = "/chat/completions"

	AuthorizationHeader = "Authorization"
	ContentTypeHeader   = "Content-Type"
)
