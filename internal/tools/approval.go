package tools

// approvalTool marks a tool whose calls must be confirmed by the user before execution.
type approvalTool struct {
	Tool
}

func RequireApproval(s Set) Set {
	out := make(Set, len(s))
	for name, t := range s {
		if NeedsApproval(t) {
			out[name] = t
			continue
		}
		out[name] = approvalTool{Tool: t}
	}
	return out
}

func NeedsApproval(t Tool) bool {
	_, ok := t.(approvalTool)
	return ok
}
