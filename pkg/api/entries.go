package api

import "github.com/iudanet/dirsync/internal/models"

// AddRequest запрос на создание записи
type AddRequest struct {
	Attributes map[string][]string `json:"attributes"`
	DN         string              `json:"dn"`
}

// ModifyRequest запрос на изменение атрибутов записи
type ModifyRequest struct {
	DN   string                `json:"dn"`
	Mods []models.Modification `json:"mods"`
}

// DeleteRequest запрос на удаление записи
type DeleteRequest struct {
	DN string `json:"dn"`
}

// UpdateResponse сообщение репликации, созданное локальным изменением
type UpdateResponse struct {
	Update *models.UpdateMsg `json:"update"`
}

// EntryResponse запись каталога без истории изменений
type EntryResponse struct {
	Attributes map[string][]string `json:"attributes"`
	DN         string              `json:"dn"`
	EntryUUID  string              `json:"entry_uuid"`
}
