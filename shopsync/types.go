package shopsync

import (
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
)

// ObjectTypeSelection picks which object types a sync run covers.
type ObjectTypeSelection struct {
	Customers       bool `json:"customers"`
	Products        bool `json:"products"`
	InventoryItems  bool `json:"inventoryItems"`
	InventoryLevels bool `json:"inventoryLevels"`
	Orders          bool `json:"orders"`
	Transactions    bool `json:"transactions"`
}

func DefaultSelection() ObjectTypeSelection {
	return ObjectTypeSelection{
		Customers:       true,
		Products:        true,
		InventoryItems:  true,
		InventoryLevels: true,
		Orders:          true,
		Transactions:    true,
	}
}

func (s ObjectTypeSelection) ObjectTypes() []string {
	var types []string
	for _, t := range models.ObjectTypesInDependencyOrder() {
		switch t {
		case models.ObjectTypeCustomer:
			if s.Customers {
				types = append(types, t)
			}
		case models.ObjectTypeProduct:
			if s.Products {
				types = append(types, t)
			}
		case models.ObjectTypeInventoryItem:
			if s.InventoryItems {
				types = append(types, t)
			}
		case models.ObjectTypeInventoryLevel:
			if s.InventoryLevels {
				types = append(types, t)
			}
		case models.ObjectTypeOrder:
			if s.Orders {
				types = append(types, t)
			}
		case models.ObjectTypeTransaction:
			if s.Transactions {
				types = append(types, t)
			}
		}
	}
	return types
}

func (s ObjectTypeSelection) IsEmpty() bool {
	return len(s.ObjectTypes()) == 0
}

func DecodeSelection(raw []byte) ObjectTypeSelection {
	if len(raw) == 0 {
		return DefaultSelection()
	}
	var sel ObjectTypeSelection
	if err := utils.UnmarshalFromJSON(raw, &sel); err != nil {
		return DefaultSelection()
	}
	if sel.IsEmpty() {
		return DefaultSelection()
	}
	return sel
}

func EncodeSelection(sel ObjectTypeSelection) []byte {
	s, _ := utils.MarshalToJSON(sel)
	return []byte(s)
}

// SyncProgress is the operator-visible progress blob on the connection.
type SyncProgress struct {
	CurrentStep    string         `json:"current_step"`
	Message        string         `json:"message"`
	ProcessedCount int            `json:"processed_count"`
	EtaSeconds     int64          `json:"eta_seconds"`
	Counts         map[string]int `json:"counts"`
}

func DecodeProgress(raw []byte) SyncProgress {
	var p SyncProgress
	if len(raw) > 0 {
		_ = utils.UnmarshalFromJSON(raw, &p)
	}
	if p.Counts == nil {
		p.Counts = map[string]int{}
	}
	return p
}

func EncodeProgress(p SyncProgress) []byte {
	s, _ := utils.MarshalToJSON(p)
	return []byte(s)
}

type ConnectRequest struct {
	ShopDomain    string `json:"shopDomain" validate:"required,hostname"`
	AccessToken   string `json:"accessToken" validate:"required"`
	WebhookSecret string `json:"webhookSecret" validate:"required"`
	ApiVersion    string `json:"apiVersion"`
}

type TriggerSyncRequest struct {
	Kind        string              `json:"kind"`
	ObjectTypes ObjectTypeSelection `json:"objectTypes"`
}

type ResetRawRecordsRequest struct {
	ObjectType string `json:"objectType"`
	Status     string `json:"status"`
	Ids        []uint `json:"ids"`
}

type StatusResponse struct {
	Connection        ConnectionResponse `json:"connection"`
	LastSyncAt        *string            `json:"lastSyncAt"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt"`
	Progress          SyncProgress       `json:"progress"`
}

type ConnectionResponse struct {
	Status     string `json:"status"`
	ShopDomain string `json:"shopDomain"`
	ApiVersion string `json:"apiVersion"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	ObjectType string `json:"objectType"`
	RemoteId   string `json:"remoteId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncRunMessage struct {
	RunId        uint   `json:"run_id"`
	TenantId     string `json:"tenant_id"`
	ConnectionId uint   `json:"connection_id"`
	Kind         string `json:"kind"`
}
