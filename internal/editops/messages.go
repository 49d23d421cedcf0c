package editops

// Notification keys resolved by the presentation layer.
const (
	MsgMergeSuccess       = "classVerification.notifications.pageMerge.success"
	MsgSplitSuccessOne    = "classVerification.notifications.pageSplit.successSingle"
	MsgSplitSuccessMany   = "classVerification.notifications.pageSplit.successMultiple"
	MsgMoveSuccess        = "classVerification.notifications.pageMove.success"
	MsgDeleteSuccess      = "classVerification.notifications.pageDelete.success"
	MsgResolveSuccess     = "classVerification.notifications.documentResolve.success"
	MsgRejectSuccess      = "classVerification.notifications.documentReject.success"
	MsgClassChangeSuccess = "classVerification.notifications.documentClassChange.success"

	MsgTargetNotFound = "classVerification.notifications.errors.targetDocumentNotFound"
	MsgClassNotFound  = "classVerification.notifications.errors.targetClassNotFound"
	MsgNoDocuments    = "classVerification.notifications.errors.noDocuments"
	MsgUnknownAction  = "classVerification.notifications.errors.unknownAction"
)
