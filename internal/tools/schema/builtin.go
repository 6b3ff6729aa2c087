package schema

// BuiltinSchemas maps every core tool name to its declared JSON Schema.
// These are the tools available regardless of deployment (shell, file
// edit, session memory, context rehydration); browser automation tools
// live in internal/tools/browser and are registered separately when a
// deployment enables them.
var BuiltinSchemas = map[string]string{
	"shell": `{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute"}
		},
		"required": ["command"]
	}`,
	"read_file": `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "The path to the file to read"},
			"start": {"type": "integer", "description": "Starting character position (0-indexed, inclusive)"},
			"end": {"type": "integer", "description": "Ending character position (0-indexed, exclusive)"}
		},
		"required": ["file_path"]
	}`,
	"write_file": `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "The path to the file to write"},
			"content": {"type": "string", "description": "The content to write to the file"}
		},
		"required": ["file_path", "content"]
	}`,
	"str_replace": `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "The path to the file to edit"},
			"diff": {"type": "string", "description": "A unified diff showing what to replace"},
			"start": {"type": "integer", "description": "Starting character position (0-indexed, inclusive)"},
			"end": {"type": "integer", "description": "Ending character position (0-indexed, exclusive)"}
		},
		"required": ["file_path", "diff"]
	}`,
	"todo_read": `{
		"type": "object",
		"properties": {}
	}`,
	"todo_write": `{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The TODO list content to save, markdown checkboxes"}
		},
		"required": ["content"]
	}`,
	"research": `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The research question or topic to investigate"}
		},
		"required": ["query"]
	}`,
	"remember": `{
		"type": "object",
		"properties": {
			"notes": {"type": "string", "description": "New discoveries to add to memory, markdown format"}
		},
		"required": ["notes"]
	}`,
	"rehydrate": `{
		"type": "object",
		"properties": {
			"fragment_id": {"type": "string", "description": "The fragment ID to restore"}
		},
		"required": ["fragment_id"]
	}`,
	"final_output": `{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "description": "A concise summary of what was accomplished this turn"}
		},
		"required": ["summary"]
	}`,
}

// RegisterBuiltins compiles and registers every schema in BuiltinSchemas.
// A deployment that wants a subset should call Register directly with
// its own filtered map instead.
func RegisterBuiltins(r *Registry) error {
	for name, raw := range BuiltinSchemas {
		if err := r.Register(name, []byte(raw)); err != nil {
			return err
		}
	}
	return nil
}
