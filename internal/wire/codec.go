package wire

import "encoding/json"

// ParseEnvelope decodes one raw frame into an Envelope. Malformed input
// yields a zero envelope whose Type() is empty; callers drop those.
func ParseEnvelope(raw []byte) Envelope {
	var e Envelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &e)
	}
	return e
}

// decodeInto 容忍解码: 畸形或缺失的 data 返回零值。
func decodeInto[T any](data json.RawMessage) T {
	var v T
	if len(data) > 0 {
		_ = json.Unmarshal(data, &v)
	}
	return v
}

func DecodeTextDelta(data json.RawMessage) TextDeltaData   { return decodeInto[TextDeltaData](data) }
func DecodeThinking(data json.RawMessage) ThinkingData     { return decodeInto[ThinkingData](data) }
func DecodeToolUse(data json.RawMessage) ToolUseData       { return decodeInto[ToolUseData](data) }
func DecodeToolInput(data json.RawMessage) ToolInputData   { return decodeInto[ToolInputData](data) }
func DecodeToolResult(data json.RawMessage) ToolResultData { return decodeInto[ToolResultData](data) }
func DecodeQuestion(data json.RawMessage) QuestionData     { return decodeInto[QuestionData](data) }
func DecodePlanApproval(data json.RawMessage) PlanApprovalData {
	return decodeInto[PlanApprovalData](data)
}
func DecodeMessage(data json.RawMessage) MessageData { return decodeInto[MessageData](data) }
func DecodeStatusChange(data json.RawMessage) StatusChangeData {
	return decodeInto[StatusChangeData](data)
}
func DecodeConfigChange(data json.RawMessage) ConfigChangeData {
	return decodeInto[ConfigChangeData](data)
}
func DecodeTitleChange(data json.RawMessage) TitleChangeData {
	return decodeInto[TitleChangeData](data)
}
func DecodeSubthreadStatus(data json.RawMessage) SubthreadStatusData {
	return decodeInto[SubthreadStatusData](data)
}
func DecodeThreadCreated(data json.RawMessage) ThreadCreatedData {
	return decodeInto[ThreadCreatedData](data)
}
func DecodeSubagentStart(data json.RawMessage) SubagentStartData {
	return decodeInto[SubagentStartData](data)
}
func DecodeSubagentStop(data json.RawMessage) SubagentStopData {
	return decodeInto[SubagentStopData](data)
}
func DecodeChildQuestion(data json.RawMessage) ChildQuestionData {
	return decodeInto[ChildQuestionData](data)
}
func DecodeThreadArchived(data json.RawMessage) ThreadArchivedData {
	return decodeInto[ThreadArchivedData](data)
}
func DecodeUsage(data json.RawMessage) UsageData       { return decodeInto[UsageData](data) }
func DecodeComplete(data json.RawMessage) CompleteData { return decodeInto[CompleteData](data) }
func DecodeError(data json.RawMessage) ErrorData       { return decodeInto[ErrorData](data) }
