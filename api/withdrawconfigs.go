package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/models/withdrawconfigs"
)

func (r *RestServer) registerWithdrawConfigRoutes() {
	router := r.Router.Group("/withdraw-configs")

	router.POST("", r.createWithdrawConfig())
	router.GET("", r.listWithdrawConfigs())
	router.GET("/:id", r.getWithdrawConfig())
	router.DELETE("/:id", r.deleteWithdrawConfig())
}

type withdrawConfigResponse struct {
	ID         int    `json:"id"`
	WalletID   int    `json:"walletId"`
	Name       string `json:"name"`
	ReuseType  string `json:"reuseType"`
	UsageLimit *int64 `json:"usageLimit,omitempty"`
	MaxPerUse  *int64 `json:"maxPerUseMSat,omitempty"`
	MaxTotal   *int64 `json:"maxTotalMSat,omitempty"`

	RemainingBalanceMSat int64  `json:"remainingBalanceMSat"`
	RemainingUsages      *int64 `json:"remainingUsages,omitempty"`
}

func (r *RestServer) withdrawConfigResponse(config withdrawconfigs.Config) (withdrawConfigResponse, error) {
	eval, err := withdrawconfigs.Evaluate(r.db, config)
	if err != nil {
		return withdrawConfigResponse{}, err
	}

	resp := withdrawConfigResponse{
		ID:                   config.ID,
		WalletID:             config.WalletID,
		Name:                 config.Name,
		ReuseType:            string(config.ReuseType),
		UsageLimit:           config.UsageLimit,
		RemainingBalanceMSat: eval.RemainingBalance.MSats(),
	}
	if config.MaxPerUse != nil {
		maxPerUse := config.MaxPerUse.MSats()
		resp.MaxPerUse = &maxPerUse
	}
	if config.MaxTotal != nil {
		maxTotal := config.MaxTotal.MSats()
		resp.MaxTotal = &maxTotal
	}
	if eval.UsageLimited {
		remaining := eval.RemainingUsages
		resp.RemainingUsages = &remaining
	}
	return resp, nil
}

func (r *RestServer) createWithdrawConfig() gin.HandlerFunc {
	type request struct {
		WalletID   int    `json:"walletId" binding:"required"`
		Name       string `json:"name" binding:"required"`
		ReuseType  string `json:"reuseType" binding:"required"`
		UsageLimit *int64 `json:"usageLimit"`
		MaxPerUse  *int64 `json:"maxPerUseMSat"`
		MaxTotal   *int64 `json:"maxTotalMSat"`
	}

	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		config := withdrawconfigs.Config{
			WalletID:   req.WalletID,
			Name:       req.Name,
			ReuseType:  withdrawconfigs.ReuseType(req.ReuseType),
			UsageLimit: req.UsageLimit,
		}
		if req.MaxPerUse != nil {
			maxPerUse := lightmoney.FromMSats(*req.MaxPerUse)
			config.MaxPerUse = &maxPerUse
		}
		if req.MaxTotal != nil {
			maxTotal := lightmoney.FromMSats(*req.MaxTotal)
			config.MaxTotal = &maxTotal
		}

		inserted, err := withdrawconfigs.Create(r.db, config)
		if err != nil {
			badRequest(c, err)
			return
		}

		resp, err := r.withdrawConfigResponse(inserted)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func (r *RestServer) listWithdrawConfigs() gin.HandlerFunc {
	return func(c *gin.Context) {
		walletID, err := intQuery(c, "walletId")
		if err != nil {
			badRequest(c, err)
			return
		}

		list, err := withdrawconfigs.GetByWalletID(r.db, walletID)
		if err != nil {
			internalError(c, err)
			return
		}

		resp := make([]withdrawConfigResponse, 0, len(list))
		for _, config := range list {
			converted, err := r.withdrawConfigResponse(config)
			if err != nil {
				internalError(c, err)
				return
			}
			resp = append(resp, converted)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) getWithdrawConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		config, err := withdrawconfigs.GetByID(r.db, id)
		if err != nil {
			if errors.Cause(err) == withdrawconfigs.ErrNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		resp, err := r.withdrawConfigResponse(config)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *RestServer) deleteWithdrawConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		if err := withdrawconfigs.Remove(r.db, id); err != nil {
			if errors.Cause(err) == withdrawconfigs.ErrNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
