package crdt

import (
	"math"
	"sync"
	"time"
)

// Clock выпускает ChangeNumber для локальных изменений одной реплики.
// Номера, выпущенные одним экземпляром, строго возрастают даже если
// системное время откатилось назад.
type Clock struct {
	now       func() time.Time // источник физического времени
	last      ChangeNumber     // последний выпущенный или увиденный номер
	replicaID uint16           // идентификатор реплики
	mu        sync.Mutex       // мьютекс для потокобезопасности
}

// NewClock создает часы реплики на основе системного времени.
func NewClock(replicaID uint16) *Clock {
	return NewClockWithTimeSource(replicaID, time.Now)
}

// NewClockWithTimeSource создает часы с заданным источником времени.
// Используется для тестирования.
func NewClockWithTimeSource(replicaID uint16, now func() time.Time) *Clock {
	return &Clock{
		now:       now,
		replicaID: replicaID,
	}
}

// Next выпускает новый ChangeNumber, строго больший всех ранее выпущенных
// и всех увиденных через Update.
func (c *Clock) Next() ChangeNumber {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := uint64(c.now().UnixMilli())

	next := ChangeNumber{Timestamp: ms, Seq: 0, ReplicaID: c.replicaID}
	if next.Newer(c.last) {
		c.last = next
		return next
	}

	// Время не продвинулось - увеличиваем sequence в пределах той же миллисекунды
	next = ChangeNumber{Timestamp: c.last.Timestamp, Seq: c.last.Seq, ReplicaID: c.replicaID}
	if next.Seq == math.MaxUint16 {
		next.Timestamp++
		next.Seq = 0
	} else if c.last.ReplicaID >= c.replicaID {
		next.Seq++
	}

	c.last = next
	return next
}

// Update учитывает ChangeNumber, полученный от другой реплики.
// После вызова Next гарантированно вернет номер новее remote.
func (c *Clock) Update(remote ChangeNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.Newer(c.last) {
		c.last = remote
	}
}

// Last возвращает последний выпущенный или увиденный номер без его изменения.
func (c *Clock) Last() ChangeNumber {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// ReplicaID возвращает идентификатор реплики.
func (c *Clock) ReplicaID() uint16 {
	return c.replicaID
}
