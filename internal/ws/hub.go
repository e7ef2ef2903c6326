package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// Hub — реестр живых соединений, ключ — пользователь. Пользователь с
// несколькими сессиями получает событие на каждой из них. Реестр передаётся
// сервисам явно, глобального состояния нет.
type Hub struct {
	mu               sync.RWMutex
	clients          map[uuid.UUID]map[*Client]struct{}
	register         chan *Client
	unregister       chan *Client
	broadcast        chan message
	deliveryFailures prometheus.Counter
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт новый хаб. Счётчик сбоев доставки опционален.
func NewHub(deliveryFailures prometheus.Counter) *Hub {
	return &Hub{
		clients:          make(map[uuid.UUID]map[*Client]struct{}),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan message, 32),
		deliveryFailures: deliveryFailures,
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToUser отправляет событие на все сессии пользователя.
// Сбой доставки логируется и не влияет на вызвавшую мутацию.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	// Контракт WebSocket API: поле "type" содержит имя события,
	// "data" — полезную нагрузку.
	payload := map[string]any{
		"type": event,
		"data": data,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	h.broadcast <- message{userID: userID, payload: raw}
	return nil
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Буфер клиента переполнен — сбрасываем соединение,
			// клиент переподключится и догонит состояние.
			if h.deliveryFailures != nil {
				h.deliveryFailures.Inc()
			}
			logger.WithComponent("ws").WithField("user_id", userID).
				Warn("буфер клиента переполнен, соединение закрывается")
			go func(c *Client) {
				defer func() {
					if r := recover(); r != nil {
						logger.WithComponent("ws").Errorf("panic при закрытии клиента: %v", r)
					}
				}()
				c.Close()
			}(client)
		}
	}
}
