package handlers

import "context"

type contextKey string

const (
	// ReplicaIDKey ключ контекста с идентификатором реплики из токена
	ReplicaIDKey contextKey = "replica_id"
	// ReplicaNameKey ключ контекста с именем реплики из токена
	ReplicaNameKey contextKey = "replica_name"
)

// GetReplicaID извлекает идентификатор удаленной реплики из контекста
func GetReplicaID(ctx context.Context) (uint16, bool) {
	id, ok := ctx.Value(ReplicaIDKey).(uint16)
	return id, ok && id != 0
}

// GetReplicaName извлекает имя удаленной реплики из контекста
func GetReplicaName(ctx context.Context) string {
	name, _ := ctx.Value(ReplicaNameKey).(string)
	return name
}
