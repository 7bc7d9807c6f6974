package rewards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	service "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RewardsHandler struct {
	router  *mux.Router
	service *service.RewardService
	logger  *zap.Logger
}

type RewardAllResponse struct {
	Rewarded int `json:"rewarded"`
}

type CustomerResponse struct {
	Customer models.Customer    `json:"customer"`
	Level    models.LevelResult `json:"level"`
}

func NewHandler(serv *service.RewardService, logger *zap.Logger) *RewardsHandler {
	router := mux.NewRouter()
	handler := &RewardsHandler{router, serv, logger}
	router.Use(MiddlewareLog(logger))

	router.HandleFunc("/business/{business}", handler.GetBusinessHandler).Methods(http.MethodGet)
	router.HandleFunc("/business/{business}", handler.SaveBusinessHandler).Methods(http.MethodPost)
	router.HandleFunc("/business/{business}/customers", handler.ListCustomersHandler).Methods(http.MethodGet)
	router.HandleFunc("/business/{business}/rewards", handler.RewardAllHandler).Methods(http.MethodPost)
	router.HandleFunc("/business/{business}/customer/{user}", handler.GetCustomerHandler).Methods(http.MethodGet)
	router.HandleFunc("/business/{business}/customer/{user}", handler.JoinHandler).Methods(http.MethodPost)

	c := router.PathPrefix("/business/{business}/customer/{user}").Subrouter()
	c.HandleFunc("/properties", handler.PropertiesHandler).Methods(http.MethodPost)
	c.HandleFunc("/purchases", handler.PurchaseHandler).Methods(http.MethodPost)
	c.HandleFunc("/level", handler.LevelHandler).Methods(http.MethodPost)
	c.HandleFunc("/rewards", handler.AddRewardHandler).Methods(http.MethodPost)
	c.HandleFunc("/rewards/{reward}/use", handler.UseRewardHandler).Methods(http.MethodPost)
	c.HandleFunc("/campaign/{campaign}", handler.CampaignHandler).Methods(http.MethodPost)

	router.HandleFunc("/campaign/{campaign}", handler.GetCampaignHandler).Methods(http.MethodGet)
	router.HandleFunc("/campaign", handler.SaveCampaignHandler).Methods(http.MethodPost)

	return handler
}

func (r *RewardsHandler) ServeHTTP(w http.ResponseWriter, res *http.Request) {
	r.router.ServeHTTP(w, res)
}

// маршрутизатор для дополнительных обработчиков (метрики)
func (r *RewardsHandler) Router() *mux.Router {
	return r.router
}

func (r *RewardsHandler) Log(msg string, service string, err error) {
	r.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

// ошибка сервиса -> HTTP код
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (r *RewardsHandler) fail(w http.ResponseWriter, service string, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		r.Log("Service error", service, err)
	}
	http.Error(w, err.Error(), code)
}

func (r *RewardsHandler) respond(w http.ResponseWriter, service string, v any) {
	j, err := json.Marshal(v)
	if err != nil {
		r.Log("Marshal", service, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(j)
}

func (r *RewardsHandler) decode(w http.ResponseWriter, req *http.Request, service string, v any) bool {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		r.Log("Get request body", service, err)
		http.Error(w, "Body is empty", http.StatusBadRequest)
		return false
	}
	defer req.Body.Close()
	err = json.Unmarshal(body, v)
	if err != nil {
		http.Error(w, "Body is not correct", http.StatusBadRequest)
		return false
	}
	return true
}

// Данные покупателя
func (r RewardsHandler) GetCustomerHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	customer, err := r.service.GetCustomer(req.Context(), vars["user"], vars["business"])
	if err != nil {
		r.fail(w, "GetCustomerHandler", err)
		return
	}
	r.respond(w, "GetCustomerHandler", customer)
}

// Присоединение к бизнесу
func (r RewardsHandler) JoinHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	customer, level, err := r.service.JoinBusiness(req.Context(), vars["user"], vars["business"])
	if err != nil {
		r.fail(w, "JoinHandler", err)
		return
	}
	r.respond(w, "JoinHandler", CustomerResponse{customer, level})
}

// Изменение баланса
func (r RewardsHandler) PropertiesHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	props := models.PropertiesUpdate{}
	if !r.decode(w, req, "PropertiesHandler", &props) {
		return
	}
	result, err := r.service.UpdateProperties(req.Context(), vars["user"], vars["business"], props)
	if err != nil {
		r.fail(w, "PropertiesHandler", err)
		return
	}
	r.respond(w, "PropertiesHandler", result)
}

// Новая покупка
func (r RewardsHandler) PurchaseHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	purchase := models.Purchase{}
	if !r.decode(w, req, "PurchaseHandler", &purchase) {
		return
	}
	purchases, err := r.service.AddPurchase(req.Context(), vars["user"], vars["business"], purchase)
	if err != nil {
		r.fail(w, "PurchaseHandler", err)
		return
	}
	r.respond(w, "PurchaseHandler", purchases)
}

// Пересчет уровня
func (r RewardsHandler) LevelHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	result, err := r.service.UpdateCustomerLevel(req.Context(), vars["user"], vars["business"])
	if err != nil {
		r.fail(w, "LevelHandler", err)
		return
	}
	r.respond(w, "LevelHandler", result)
}

// Выдать награду вручную
func (r RewardsHandler) AddRewardHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	tmpl := models.RewardTemplate{}
	if !r.decode(w, req, "AddRewardHandler", &tmpl) {
		return
	}
	reward, err := r.service.AddReward(req.Context(), vars["user"], vars["business"], tmpl)
	if err != nil {
		r.fail(w, "AddRewardHandler", err)
		return
	}
	r.respond(w, "AddRewardHandler", reward)
}

// Использовать награду
func (r RewardsHandler) UseRewardHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	id, err := uuid.Parse(vars["reward"])
	if err != nil {
		http.Error(w, "Reward not found", http.StatusNotFound)
		return
	}
	used, err := r.service.UseReward(req.Context(), vars["user"], vars["business"], id)
	if err != nil {
		r.fail(w, "UseRewardHandler", err)
		return
	}
	r.respond(w, "UseRewardHandler", used)
}

// Выдать награды кампании
func (r RewardsHandler) CampaignHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	granted, err := r.service.GrantCampaignRewards(req.Context(), vars["user"], vars["business"], vars["campaign"])
	if err != nil {
		r.fail(w, "CampaignHandler", err)
		return
	}
	r.respond(w, "CampaignHandler", granted)
}

// Список покупателей
func (r RewardsHandler) ListCustomersHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	// без limit - размер по умолчанию, 0 - все записи
	limit := -1
	if l := req.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			http.Error(w, "limit is not correct", http.StatusBadRequest)
			return
		}
	}
	customers, err := r.service.ListCustomers(req.Context(), vars["business"], limit, req.URL.Query().Get("search"))
	if err != nil {
		r.fail(w, "ListCustomersHandler", err)
		return
	}
	r.respond(w, "ListCustomersHandler", customers)
}

// Наградить всех покупателей
func (r RewardsHandler) RewardAllHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	tmpl := models.RewardTemplate{}
	if !r.decode(w, req, "RewardAllHandler", &tmpl) {
		return
	}
	count, err := r.service.RewardAllCustomers(req.Context(), vars["business"], tmpl)
	if err != nil {
		r.fail(w, "RewardAllHandler", err)
		return
	}
	r.respond(w, "RewardAllHandler", RewardAllResponse{count})
}

// Бизнес и уровни
func (r RewardsHandler) GetBusinessHandler(w http.ResponseWriter, req *http.Request) {
	business, err := r.service.GetBusiness(req.Context(), mux.Vars(req)["business"])
	if err != nil {
		r.fail(w, "GetBusinessHandler", err)
		return
	}
	r.respond(w, "GetBusinessHandler", business)
}

func (r RewardsHandler) SaveBusinessHandler(w http.ResponseWriter, req *http.Request) {
	business := models.Business{}
	if !r.decode(w, req, "SaveBusinessHandler", &business) {
		return
	}
	business.ID = mux.Vars(req)["business"]
	saved, err := r.service.SaveBusiness(req.Context(), business)
	if err != nil {
		r.fail(w, "SaveBusinessHandler", err)
		return
	}
	r.respond(w, "SaveBusinessHandler", saved)
}

// Кампании
func (r RewardsHandler) GetCampaignHandler(w http.ResponseWriter, req *http.Request) {
	campaign, err := r.service.GetCampaign(req.Context(), mux.Vars(req)["campaign"])
	if err != nil {
		r.fail(w, "GetCampaignHandler", err)
		return
	}
	r.respond(w, "GetCampaignHandler", campaign)
}

func (r RewardsHandler) SaveCampaignHandler(w http.ResponseWriter, req *http.Request) {
	campaign := models.Campaign{}
	if !r.decode(w, req, "SaveCampaignHandler", &campaign) {
		return
	}
	saved, err := r.service.SaveCampaign(req.Context(), campaign)
	if err != nil {
		r.fail(w, "SaveCampaignHandler", err)
		return
	}
	r.respond(w, "SaveCampaignHandler", saved)
}
