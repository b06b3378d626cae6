package network

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// DataRequestAction — маркер запроса данных в ответе агента.
// Координатор распознает этот конверт и запускает маршрутизацию.
const DataRequestAction = "request_data"

// DataRequest — конверт, которым агент просит данные у другого агента
type DataRequest struct {
	Action   string `json:"action"`
	Target   string `json:"target"`
	DataType string `json:"data_type"`
	Ask      string `json:"ask"`
}

// MockNetwork — детерминированная имитация агентской сети.
// Позволяет гонять систему целиком без реального LLM-бэкенда.
type MockNetwork struct{}

func NewMock() *MockNetwork {
	return &MockNetwork{}
}

func (m *MockNetwork) Invoke(ctx context.Context, agent, prompt string) (string, error) {
	// Имитируем задержку 10-50мс
	latency := time.Duration(10+rand.Intn(40)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if agent == "unstable-agent" {
		return "", fmt.Errorf("agent runtime internal error")
	}

	lower := strings.ToLower(prompt)

	// Запрос данных к целевому агенту (формулировка координатора)
	if strings.HasPrefix(prompt, "Please provide the ") {
		return m.pullData(lower), nil
	}

	// Возобновление хода: данные выпущены, формируем финальный ответ
	if strings.HasPrefix(prompt, "Present the released ") {
		data := prompt
		if parts := strings.SplitN(prompt, "Data: ", 2); len(parts) == 2 {
			data = strings.TrimSpace(parts[1])
		}
		return "<thinking>format the released data for the user</thinking>\n" +
			"Here is the data you requested, released after approval: " + data, nil
	}

	// Ход исходного агента: упоминание чужих данных превращается в запрос
	for _, dt := range []struct{ keyword, dataType string }{
		{"p&l", "pnl"}, {"pnl", "pnl"},
		{"invoice", "invoices"},
		{"expense", "expenses"},
		{"budget", "budget"},
	} {
		if strings.Contains(lower, dt.keyword) {
			req, _ := json.Marshal(DataRequest{
				Action:   DataRequestAction,
				Target:   "accountant",
				DataType: dt.dataType,
				Ask:      prompt,
			})
			return string(req), nil
		}
	}

	// Обычный ответ: с reasoning-блоком и кавычками, как отдает реальный бэкенд
	return "\"<thinking>user asked a general question</thinking>\\nHappy to help with financial reporting, budgets and invoices.\"", nil
}

func (m *MockNetwork) pullData(prompt string) string {
	switch {
	case strings.Contains(prompt, "pnl"):
		return `{"report": "P&L Q4 2025", "revenue": 1250000, "cogs": 480000, "opex": 390000, "net_income": 380000}`
	case strings.Contains(prompt, "invoices"):
		return `{"invoices": [{"id": "INV-1041", "status": "pending", "amount": 12400}, {"id": "INV-1042", "status": "paid", "amount": 8300}], "count": 2}`
	case strings.Contains(prompt, "expenses"):
		return `{"expenses": [{"category": "cloud", "amount": 54000}, {"category": "travel", "amount": 9100}]}`
	case strings.Contains(prompt, "budget"):
		return `{"budget": {"fy": 2026, "total": 4200000, "allocated": 3100000}}`
	default:
		return `{"status": "error", "message": "unknown data type"}`
	}
}

