package backend

const systemPrompt = `You are an assistant for an Android automation scripting app. Scripts are JavaScript
run by an accessibility-service runtime with helpers such as click(), text(), id(), waitFor(),
swipe(), launch() and sleep(). Always answer with a single JSON object and nothing else.`

const analyzePrompt = `Analyze and optimize the following automation script.

Current screen:
%s
Script:
%s

Respond with JSON:
{
	"optimized_script": string,
	"improvements": [{"type": string, "description": string, "before": string, "after": string}],
	"score": number between 0 and 100 rating the optimized script,
	"suggestions": [{"title": string, "description": string, "category": string, "priority": integer 1-10, "code": string}],
	"warnings": [string]
}`

const generatePrompt = `Write an automation script for this request: "%s"

Current screen:
%s
Respond with JSON:
{
	"script": string,
	"explanation": string,
	"confidence": number between 0 and 1,
	"required_permissions": [string]
}`

const validatePrompt = `Check whether this automation script can run against the current screen.

Current screen:
%s
Script:
%s

Respond with JSON:
{
	"is_valid": boolean,
	"errors": [{"line": integer, "message": string, "severity": "ERROR" or "WARNING"}]
}`

const suggestionsPrompt = `Suggest improvements for this automation script.

Script:
%s
%s
Respond with JSON:
{
	"suggestions": [{"title": string, "description": string, "category": string, "priority": integer 1-10, "code": string}]
}`

const realtimePrompt = `The user is looking at this screen:
%s
Suggest the single most useful automation action for it. Respond with JSON:
{
	"action": string,
	"description": string,
	"confidence": number between 0 and 1,
	"script": string
}`

const chatInstruction = `Reply to the user. Respond with JSON:
{
	"message": string,
	"script": string (optional, only when the user asks for code)
}`
