package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/lnurl"
	"gitlab.com/arcanecrypto/lnbank/models/boltcards"
	"gitlab.com/arcanecrypto/lnbank/models/transactions"
	"gitlab.com/arcanecrypto/lnbank/models/withdrawconfigs"
)

func (r *RestServer) registerBoltCardRoutes() {
	cards := r.Router.Group("/boltcards")
	cards.POST("", r.createBoltCard())
	cards.GET("/:id", r.getBoltCard())
	cards.POST("/:id/reactivate", r.reactivateBoltCard())
	cards.POST("/:id/deactivate", r.deactivateBoltCard())
	cards.GET("/:id/wipe", r.wipeBoltCard())

	// endpoints the physical card and the programming app talk to
	tap := r.Router.Group("/boltcard")
	tap.GET("/activate/:code", r.activateBoltCard())
	tap.GET("/pay", r.tapWithdrawRequest())
	tap.GET("/pay/:group", r.tapWithdrawRequest())
	tap.GET("/pay-callback", r.tapWithdrawCallback())
}

type boltCardResponse struct {
	ID               int    `json:"id"`
	WithdrawConfigID int    `json:"withdrawConfigId"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	Counter          int64  `json:"counter"`
	ActivationCode   string `json:"activationCode,omitempty"`
	ActivationURL    string `json:"activationUrl,omitempty"`
}

func (r *RestServer) boltCardResponse(card boltcards.Card) boltCardResponse {
	resp := boltCardResponse{
		ID:               card.ID,
		WithdrawConfigID: card.WithdrawConfigID,
		Name:             card.Name,
		Status:           string(card.Status),
		Counter:          card.Counter,
	}
	if card.Status == boltcards.StatusPendingActivation {
		resp.ActivationCode = card.ActivationCode
		resp.ActivationURL = r.config.BaseURL + "/boltcard/activate/" + card.ActivationCode
	}
	return resp
}

func (r *RestServer) createBoltCard() gin.HandlerFunc {
	type request struct {
		WithdrawConfigID int    `json:"withdrawConfigId" binding:"required"`
		Name             string `json:"name"`
	}

	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		if _, err := withdrawconfigs.GetByID(r.db, req.WithdrawConfigID); err != nil {
			badRequest(c, err)
			return
		}

		card, err := r.cards.CreateCard(req.WithdrawConfigID, req.Name)
		if err != nil {
			internalError(c, err)
			return
		}

		c.JSON(http.StatusCreated, r.boltCardResponse(card))
	}
}

func (r *RestServer) getBoltCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		card, err := r.cards.GetCard(id)
		if err != nil {
			if errors.Cause(err) == boltcards.ErrCardNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, r.boltCardResponse(card))
	}
}

func (r *RestServer) reactivateBoltCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		card, err := r.cards.MarkForReactivation(id)
		if err != nil {
			if errors.Cause(err) == boltcards.ErrCardNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, r.boltCardResponse(card))
	}
}

func (r *RestServer) deactivateBoltCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		card, err := r.cards.MarkInactive(id)
		if err != nil {
			if errors.Cause(err) == boltcards.ErrCardNotFound {
				notFound(c, err)
				return
			}
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, r.boltCardResponse(card))
	}
}

// activateBoltCard issues the pending card behind an activation code and
// hands the programming app the derived keys.
func (r *RestServer) activateBoltCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")

		issued, err := r.cards.IssueCard(c.Request.Context(), code)
		if err != nil {
			switch errors.Cause(err) {
			case boltcards.ErrCardNotFound, boltcards.ErrNotPendingActivation:
				notFound(c, err)
			default:
				internalError(c, err)
			}
			return
		}

		c.JSON(http.StatusOK, boltcards.NewActivationResponse(
			issued.Card.Name, r.lnurlwBase(issued.Group), issued.Keys))
	}
}

// lnurlwBase is the URL programmed into the card. The card appends its
// p/c parameters on every tap. Group zero is omitted so cards programmed
// before group scanning existed keep working.
func (r *RestServer) lnurlwBase(group int) string {
	base := r.config.BaseURL
	base = strings.Replace(base, "https://", "lnurlw://", 1)
	base = strings.Replace(base, "http://", "lnurlw://", 1)
	base += "/boltcard/pay"
	if group > 0 {
		base += "/" + strconv.Itoa(group)
	}
	return base
}

func lnurlError(c *gin.Context, reason string) {
	c.JSON(http.StatusOK, lnurl.StatusResponse{Status: "ERROR", Reason: reason})
}

// tapWithdrawRequest is what the card's programmed URL points at: it
// verifies the tap and answers with an LNURL-withdraw descriptor bounded by
// the config's remaining balance.
func (r *RestServer) tapWithdrawRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		group := 0
		if raw := c.Param("group"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				lnurlError(c, "invalid group")
				return
			}
			group = parsed
		}

		card, token, err := r.cards.VerifyTap(c.Request.Context(), group,
			c.Query("p"), c.Query("c"))
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"group": group,
				"url":   c.Request.URL.String(),
			}).Warn("Rejected bolt card tap")
			lnurlError(c, "could not verify tap")
			return
		}

		config, err := withdrawconfigs.GetByID(r.db, card.WithdrawConfigID)
		if err != nil {
			lnurlError(c, "withdraw config unavailable")
			return
		}

		eval, err := withdrawconfigs.Evaluate(r.db, config)
		if err != nil {
			internalError(c, err)
			return
		}

		description := card.Name
		if description == "" {
			description = config.Name
		}

		var minWithdrawable int64
		if eval.RemainingBalance > 0 {
			minWithdrawable = lightmoney.Satoshi.MSats()
		}

		c.JSON(http.StatusOK, lnurl.WithdrawRequest{
			Tag:                lnurl.WithdrawRequestTag,
			Callback:           r.config.BaseURL + "/boltcard/pay-callback",
			K1:                 token,
			DefaultDescription: description,
			MinWithdrawable:    minWithdrawable,
			MaxWithdrawable:    eval.RemainingBalance.MSats(),
			CurrentBalance:     eval.RemainingBalance.MSats(),
		})
	}
}

// tapWithdrawCallback redeems the tap authorization and pays the wallet's
// invoice under the withdraw config's policy.
func (r *RestServer) tapWithdrawCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("k1")
		paymentRequest := c.Query("pr")
		if token == "" || paymentRequest == "" {
			lnurlError(c, "k1 and pr are required")
			return
		}

		card, err := r.cards.RedeemAuthToken(token)
		if err != nil {
			lnurlError(c, "invalid or expired authorization")
			return
		}

		config, err := withdrawconfigs.GetByID(r.db, card.WithdrawConfigID)
		if err != nil {
			lnurlError(c, "withdraw config unavailable")
			return
		}

		sent, err := transactions.Send(r.db, r.node, r.lnurl, transactions.SendOpts{
			Destination:    paymentRequest,
			WithdrawConfig: &config,
			Network:        &r.config.Network,
		})
		if err != nil && errors.Cause(err) != transactions.ErrPaymentIndeterminate {
			log.WithError(err).WithField("cardId", card.ID).
				Warn("Bolt card withdraw failed")
			lnurlError(c, err.Error())
			return
		}

		log.WithFields(logrus.Fields{
			"cardId":        card.ID,
			"transactionId": sent.ID,
		}).Info("Bolt card withdraw accepted")

		c.JSON(http.StatusOK, lnurl.StatusResponse{Status: "OK"})
	}
}

// wipeBoltCard returns the key material needed to factory-reset the
// physical card.
func (r *RestServer) wipeBoltCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		card, err := r.cards.MarkInactive(id)
		if err != nil {
			notFound(c, err)
			return
		}
		if card.DerivationIndex == nil {
			badRequest(c, errors.New("card was never issued, nothing to wipe"))
			return
		}

		wipe, err := r.cards.WipeContent(*card.DerivationIndex)
		if err != nil {
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, wipe)
	}
}
