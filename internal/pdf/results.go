package pdf

// operationOutput は操作ごとの出力拡張子と種別です。
var operationOutput = map[OperationType]struct {
	ext  string
	kind ResultKind
}{
	OperationMerge:     {ext: "pdf", kind: ResultKindPDF},
	OperationSplit:     {ext: "zip", kind: ResultKindZIP},
	OperationCompress:  {ext: "pdf", kind: ResultKindPDF},
	OperationRotate:    {ext: "pdf", kind: ResultKindPDF},
	OperationWatermark: {ext: "pdf", kind: ResultKindPDF},
	OperationUnlock:    {ext: "pdf", kind: ResultKindPDF},
	OperationESign:     {ext: "pdf", kind: ResultKindPDF},
	OperationOCR:       {ext: "txt", kind: ResultKindTXT},
}

// IsKnownOperation は単体操作として認識される識別子かを返します。
func IsKnownOperation(op string) bool {
	_, ok := operationOutput[OperationType(op)]
	return ok
}
