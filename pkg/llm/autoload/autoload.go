// Package autoload registers every LLM provider factory.
package autoload

import (
	_ "finsight/pkg/llm/gemini"
	_ "finsight/pkg/llm/ollama"
	_ "finsight/pkg/llm/openailm"
)
