package models

// ValidTransactionStatuses список валидных статусов сделок
var ValidTransactionStatuses = map[string]struct{}{
	TransactionStatusPending:                {},
	TransactionStatusActive:                 {},
	TransactionStatusWaitingForPayment:      {},
	TransactionStatusPaymentMade:            {},
	TransactionStatusWaitingForShipment:     {},
	TransactionStatusWaitingForBuyerConfirm: {},
	TransactionStatusCompleted:              {},
	TransactionStatusCancelled:              {},
	TransactionStatusFailed:                 {},
	TransactionStatusDisputed:               {},
}

// ValidRoles список валидных ролей участников
var ValidRoles = map[string]struct{}{
	RoleBuyer:  {},
	RoleSeller: {},
}

// ValidDisputeTypes список валидных типов споров
var ValidDisputeTypes = map[string]struct{}{
	DisputeTypePayment:  {},
	DisputeTypeDelivery: {},
	DisputeTypeQuality:  {},
	DisputeTypeFraud:    {},
	DisputeTypeOther:    {},
}

// ValidDisputePriorities список валидных приоритетов споров
var ValidDisputePriorities = map[string]struct{}{
	DisputePriorityLow:    {},
	DisputePriorityMedium: {},
	DisputePriorityHigh:   {},
	DisputePriorityUrgent: {},
}

// ValidResolutionTypes список валидных типов разрешения
var ValidResolutionTypes = map[string]struct{}{
	ResolutionTypeAutomatic:     {},
	ResolutionTypeMediation:     {},
	ResolutionTypeArbitration:   {},
	ResolutionTypeAdminDecision: {},
}

// ValidResolutions список валидных решений
var ValidResolutions = map[string]struct{}{
	ResolutionRefundFull:     {},
	ResolutionRefundPartial:  {},
	ResolutionReleasePayment: {},
	ResolutionNoAction:       {},
}

// ValidEvidenceFileTypes список валидных типов файлов доказательств
var ValidEvidenceFileTypes = map[string]struct{}{
	EvidenceFileTypeImage:    {},
	EvidenceFileTypeDocument: {},
	EvidenceFileTypeVideo:    {},
	EvidenceFileTypeAudio:    {},
}
