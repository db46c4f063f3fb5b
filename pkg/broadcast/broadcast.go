package broadcast

import (
	"sync"
	"time"

	"github.com/crosspostly/youtube-podcast-sub002/pkg/types"
)

// Service 进度广播服务。显式构造、按引用传递，不做全局单例。
type Service struct {
	events     chan types.ProgressEvent
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mutex      sync.Mutex
}

// Client 表示一个WebSocket订阅方
type Client struct {
	Conn interface{}
	Send chan types.ProgressEvent
}

// NewService 创建进度广播服务
func NewService() *Service {
	return &Service{
		events:     make(chan types.ProgressEvent, 100),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
	}
}

// Start 运行广播循环
func (s *Service) Start(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case client := <-s.register:
			s.mutex.Lock()
			s.clients[client] = true
			s.mutex.Unlock()
		case client := <-s.unregister:
			s.mutex.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.Send)
			}
			s.mutex.Unlock()
		case <-s.shutdown:
			s.mutex.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				close(client.Send)
			}
			s.mutex.Unlock()
			return
		case event := <-s.events:
			s.mutex.Lock()
			for client := range s.clients {
				select {
				case client.Send <- event:
				default:
					// 消费不动的客户端直接摘除
					delete(s.clients, client)
					close(client.Send)
				}
			}
			s.mutex.Unlock()
		}
	}
}

// Publish 推送一条进度事件
func (s *Service) Publish(projectID, stage, eventType, msg string) {
	s.events <- types.ProgressEvent{
		ProjectID: projectID,
		Stage:     stage,
		Type:      eventType,
		Message:   msg,
		Timestamp: GetTimeStr(),
	}
}

// PublishProgress 推送带百分比的进度事件
func (s *Service) PublishProgress(projectID, stage, msg string, percent float64) {
	s.events <- types.ProgressEvent{
		ProjectID: projectID,
		Stage:     stage,
		Type:      "progress",
		Message:   msg,
		Percent:   percent,
		Timestamp: GetTimeStr(),
	}
}

// RegisterClient 注册订阅方
func (s *Service) RegisterClient(conn interface{}) *Client {
	client := &Client{
		Conn: conn,
		Send: make(chan types.ProgressEvent, 256),
	}
	s.register <- client
	return client
}

// UnregisterClient 注销订阅方
func (s *Service) UnregisterClient(client *Client) {
	s.unregister <- client
}

// Close 关闭广播服务
func (s *Service) Close() {
	close(s.shutdown)
}

func GetTimeStr() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
