package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/models/transactions"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
)

func (r *RestServer) registerWalletRoutes() {
	router := r.Router.Group("/wallets")

	router.POST("", r.createWallet())
	router.GET("", r.listWallets())
	router.GET("/:id", r.getWallet())
	router.PUT("/:id", r.updateWallet())
	router.DELETE("/:id", r.deleteWallet())

	router.GET("/:id/transactions", r.listTransactions())
	router.POST("/:id/receive", r.receive())
	router.POST("/:id/send", r.send())
	router.POST("/:id/topup", r.topUp())
}

// walletResponse is the JSON form of a wallet plus its derived balance.
type walletResponse struct {
	ID                         int     `json:"id"`
	UserID                     string  `json:"userId"`
	Name                       string  `json:"name"`
	BalanceMSat                int64   `json:"balanceMSat"`
	BalanceSat                 int64   `json:"balanceSat"`
	PrivateRouteHintsByDefault bool    `json:"privateRouteHintsByDefault"`
	LightningAddressIdentifier *string `json:"lightningAddressIdentifier,omitempty"`
}

func (r *RestServer) walletResponse(wallet wallets.Wallet) (walletResponse, error) {
	balance, err := wallets.GetBalance(r.db, wallet.ID)
	if err != nil {
		return walletResponse{}, err
	}
	return walletResponse{
		ID:                         wallet.ID,
		UserID:                     wallet.UserID,
		Name:                       wallet.Name,
		BalanceMSat:                balance.MSats(),
		BalanceSat:                 balance.Sats(),
		PrivateRouteHintsByDefault: wallet.PrivateRouteHintsByDefault,
		LightningAddressIdentifier: wallet.LightningAddressIdentifier,
	}, nil
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		badRequest(c, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

func (r *RestServer) createWallet() gin.HandlerFunc {
	type request struct {
		UserID            string `json:"userId" binding:"required"`
		Name              string `json:"name" binding:"required"`
		PrivateRouteHints bool   `json:"privateRouteHints"`
	}

	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		wallet, err := wallets.Create(r.db, req.UserID, req.Name, req.PrivateRouteHints)
		if err != nil {
			internalError(c, err)
			return
		}

		resp, err := r.walletResponse(wallet)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func (r *RestServer) listWallets() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			badRequest(c, errors.New("userId query parameter is required"))
			return
		}

		list, err := wallets.GetByUserID(r.db, userID, wallets.ExcludeDeleted)
		if err != nil {
			internalError(c, err)
			return
		}

		resp := make([]walletResponse, 0, len(list))
		for _, wallet := range list {
			converted, err := r.walletResponse(wallet)
			if err != nil {
				internalError(c, err)
				return
			}
			resp = append(resp, converted)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) getWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		wallet, err := wallets.GetByID(r.db, id, wallets.ExcludeDeleted)
		if err != nil {
			if errors.Cause(err) == wallets.ErrNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		resp, err := r.walletResponse(wallet)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) updateWallet() gin.HandlerFunc {
	type request struct {
		Name                       string  `json:"name" binding:"required"`
		PrivateRouteHints          bool    `json:"privateRouteHints"`
		LightningAddressIdentifier *string `json:"lightningAddressIdentifier"`
	}

	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		wallet, err := wallets.GetByID(r.db, id, wallets.ExcludeDeleted)
		if err != nil {
			notFound(c, err)
			return
		}

		wallet.Name = req.Name
		wallet.PrivateRouteHintsByDefault = req.PrivateRouteHints
		wallet.LightningAddressIdentifier = req.LightningAddressIdentifier

		updated, err := wallets.UpdateDetails(r.db, wallet)
		if err != nil {
			internalError(c, err)
			return
		}

		resp, err := r.walletResponse(updated)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) deleteWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		wallet, err := wallets.GetByID(r.db, id, wallets.ExcludeDeleted)
		if err != nil {
			notFound(c, err)
			return
		}

		force := c.Query("force") == "true"
		if err := wallets.Remove(r.db, wallet, force); err != nil {
			if errors.Cause(err) == wallets.ErrNotEmpty {
				badRequest(c, err)
				return
			}
			internalError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// transactionResponse is the JSON form of a ledger entry.
type transactionResponse struct {
	ID                int     `json:"id"`
	WalletID          int     `json:"walletId"`
	Status            string  `json:"status"`
	PaymentRequest    string  `json:"paymentRequest"`
	PaymentHash       *string `json:"paymentHash,omitempty"`
	Description       string  `json:"description,omitempty"`
	AmountMSat        int64   `json:"amountMSat"`
	AmountSettledMSat *int64  `json:"amountSettledMSat,omitempty"`
	RoutingFeeMSat    *int64  `json:"routingFeeMSat,omitempty"`
	CreatedAt         string  `json:"createdAt"`
	ExpiresAt         string  `json:"expiresAt"`
	PaidAt            *string `json:"paidAt,omitempty"`
}

func toTransactionResponse(t transactions.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:             t.ID,
		WalletID:       t.WalletID,
		Status:         string(t.Status()),
		PaymentRequest: t.PaymentRequest,
		PaymentHash:    t.PaymentHash,
		Description:    t.Description,
		AmountMSat:     t.Amount.MSats(),
		CreatedAt:      t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		ExpiresAt:      t.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if t.AmountSettled != nil {
		settled := t.AmountSettled.MSats()
		resp.AmountSettledMSat = &settled
	}
	if t.RoutingFee != nil {
		fee := t.RoutingFee.MSats()
		resp.RoutingFeeMSat = &fee
	}
	if t.PaidAt != nil {
		paidAt := t.PaidAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.PaidAt = &paidAt
	}
	return resp
}

func (r *RestServer) listTransactions() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		list, err := transactions.GetByWalletID(r.db, id, wallets.ExcludeDeleted)
		if err != nil {
			internalError(c, err)
			return
		}

		resp := make([]transactionResponse, 0, len(list))
		for _, t := range list {
			resp = append(resp, toTransactionResponse(t))
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) receive() gin.HandlerFunc {
	type request struct {
		AmountMSat        int64  `json:"amountMSat"`
		ExpirySeconds     int64  `json:"expirySeconds"`
		Description       string `json:"description"`
		PrivateRouteHints *bool  `json:"privateRouteHints"`
	}

	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		inserted, err := transactions.Receive(r.db, r.node, transactions.ReceiveOpts{
			WalletID:          id,
			Amount:            lightmoney.FromMSats(req.AmountMSat),
			ExpirySeconds:     req.ExpirySeconds,
			Description:       req.Description,
			PrivateRouteHints: req.PrivateRouteHints,
		})
		if err != nil {
			badRequest(c, err)
			return
		}

		c.JSON(http.StatusCreated, toTransactionResponse(inserted))
	}
}

func (r *RestServer) send() gin.HandlerFunc {
	type request struct {
		Destination string `json:"destination" binding:"required"`
		AmountMSat  int64  `json:"amountMSat"`
		Comment     string `json:"comment"`
	}

	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		sent, err := transactions.Send(r.db, r.node, r.lnurl, transactions.SendOpts{
			WalletID:    id,
			Destination: req.Destination,
			Amount:      lightmoney.FromMSats(req.AmountMSat),
			Comment:     req.Comment,
			Network:     &r.config.Network,
		})
		if err != nil {
			if errors.Cause(err) == transactions.ErrPaymentIndeterminate {
				// the reservation stays pending, tell the caller that
				c.JSON(http.StatusAccepted, toTransactionResponse(sent))
				return
			}
			badRequest(c, err)
			return
		}

		c.JSON(http.StatusOK, toTransactionResponse(sent))
	}
}

func (r *RestServer) topUp() gin.HandlerFunc {
	type request struct {
		AmountMSat  int64  `json:"amountMSat" binding:"required"`
		Description string `json:"description"`
	}

	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		inserted, err := transactions.TopUp(r.db, id,
			lightmoney.FromMSats(req.AmountMSat), req.Description)
		if err != nil {
			badRequest(c, err)
			return
		}

		c.JSON(http.StatusCreated, toTransactionResponse(inserted))
	}
}
