// Package gateway is the exchange's thin HTTP adapter. It does no
// matching logic of its own, only translates requests into calls on the
// matching engine and analytics aggregator and serializes their
// results.
package gateway

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/analytics"
	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
	"github.com/astroleaf/ecoflux-exchange/internal/matching"
	"github.com/astroleaf/ecoflux-exchange/internal/registry"
)

// Server wraps a gin.Engine exposing the matching core over HTTP.
type Server struct {
	logger *zap.Logger
	engine *matching.Engine
	stats  *analytics.Aggregator
	router *gin.Engine
}

// New builds a Server and registers all routes.
func New(logger *zap.Logger, engine *matching.Engine, stats *analytics.Aggregator) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(cors.Default())

	s := &Server{logger: logger, engine: engine, stats: stats, router: router}
	s.registerRoutes()
	return s
}

// Router exposes the underlying gin.Engine for http.ListenAndServe.
func (s *Server) Router() *gin.Engine { return s.router }

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))

	v1 := s.router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		orders.POST("", s.handleSubmit)
		orders.GET("", s.handleListOrders)
		orders.GET("/:id", s.handleGetOrder)
		orders.DELETE("/:id", s.handleCancel)

		books := v1.Group("/books")
		books.GET("/:category", s.handleOrderBook)

		contractRoutes := v1.Group("/contracts")
		contractRoutes.POST("", s.handleDeployContract)
		contractRoutes.GET("/:id", s.handleGetContract)
		contractRoutes.POST("/:id/execute", s.handleExecuteContract)
		contractRoutes.POST("/:id/verify", s.handleVerify)
		contractRoutes.POST("/verify-batch", s.handleBatchVerify)

		v1.GET("/stats", s.handleStats)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// submitRequest is the wire shape of an order submission.
type submitRequest struct {
	Side       string  `json:"side" binding:"required,oneof=buy sell"`
	Category   string  `json:"category" binding:"required,oneof=solar wind hydro biomass"`
	Quantity   float64 `json:"quantity" binding:"required,gt=0"`
	LimitPrice float64 `json:"limit_price" binding:"required,gt=0"`
	UserID     string  `json:"user_id" binding:"required"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID, matched, err := s.engine.Submit(c.Request.Context(), matching.SubmitRequest{
		Side:       req.Side,
		Category:   req.Category,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		UserID:     req.UserID,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order_id": orderID, "matched": matched})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.engine.QueryOrder(c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	f := registry.Filter{UserID: c.Query("user_id")}
	if raw := c.Query("state"); raw != "" {
		st := domain.OrderState(raw)
		f.State = &st
	}

	orders := s.engine.ListOrders(f)
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) handleCancel(c *gin.Context) {
	cancelled, err := s.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) handleOrderBook(c *gin.Context) {
	snapshot, err := s.engine.OrderBookSnapshot(domain.Category(c.Param("category")))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetContract(c *gin.Context) {
	contract, err := s.engine.QueryContract(c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// deployContractRequest is the wire shape of an administrative contract
// deployment that bypasses matching.
type deployContractRequest struct {
	BuyerUserID  string  `json:"buyer_user_id" binding:"required"`
	SellerUserID string  `json:"seller_user_id" binding:"required"`
	Category     string  `json:"category" binding:"required,oneof=solar wind hydro biomass"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0"`
	Price        float64 `json:"price" binding:"required,gt=0"`
}

func (s *Server) handleDeployContract(c *gin.Context) {
	var req deployContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contract, err := s.engine.DeployContract(req.BuyerUserID, req.SellerUserID, domain.Category(req.Category), req.Quantity, req.Price)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contract)
}

func (s *Server) handleExecuteContract(c *gin.Context) {
	contract, err := s.engine.ExecuteContract(c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"tx_hash":               contract.TxHash,
		"execution_duration_ms": contract.ExecutionDuration().Milliseconds(),
		"gas_used":              contract.GasUsed,
		"state":                 contract.State,
	})
}

type verifyRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, latency, err := s.engine.VerifyContract(c.Param("id"), req.TxHash)
	// A mismatch is a negative answer, not a transport failure.
	if err != nil && engineerrors.GetCode(err) != engineerrors.VerificationMismatch {
		writeEngineError(c, err)
		return
	}

	confirmations := 0
	if ok {
		confirmations = contracts.ConfirmationsRequired
	}
	c.JSON(http.StatusOK, gin.H{
		"verified":      ok,
		"confirmations": confirmations,
		"latency_ms":    latency.Milliseconds(),
	})
}

// batchVerifyRequest pairs contract ids with the hashes to check them
// against, index for index.
type batchVerifyRequest struct {
	ContractIDs []string `json:"contract_ids" binding:"required"`
	TxHashes    []string `json:"tx_hashes" binding:"required"`
}

func (s *Server) handleBatchVerify(c *gin.Context) {
	var req batchVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.ContractIDs) != len(req.TxHashes) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contract_ids and tx_hashes must have equal length"})
		return
	}

	results := s.engine.BatchVerifyContracts(req.ContractIDs, req.TxHashes)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Compute())
}

func writeEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch engineerrors.GetCode(err) {
	case engineerrors.Validation:
		status = http.StatusBadRequest
	case engineerrors.NotFound:
		status = http.StatusNotFound
	case engineerrors.NotCancellable, engineerrors.AlreadyCancelled, engineerrors.AlreadyMatched, engineerrors.Conflict:
		status = http.StatusConflict
	case engineerrors.Timeout:
		status = http.StatusGatewayTimeout
	case engineerrors.ContractExecutionFailed, engineerrors.VerificationMismatch:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
