// Package api is the HTTP surface of the ledger: wallet and withdraw config
// management plus the LNURL-withdraw endpoints a Bolt Card talks to.
package api

import (
	"net/http"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/ln"
	"gitlab.com/arcanecrypto/lnbank/lnurl"
	"gitlab.com/arcanecrypto/lnbank/models/boltcards"
)

var log = build.AddSubLogger("HTTP")

// Config is the api configuration.
type Config struct {
	// Network decides how payment requests are decoded
	Network chaincfg.Params
	// BaseURL is the externally reachable URL of this server, used to
	// build LNURL callbacks
	BaseURL string
	// AllowedOrigins for CORS. Empty allows none.
	AllowedOrigins []string
}

// RestServer wires the models into HTTP routes.
type RestServer struct {
	Router *gin.Engine

	db     *db.DB
	node   ln.NodeClient
	lnurl  *lnurl.Client
	cards  *boltcards.Service
	config Config
}

// NewApp builds the server and registers all routes.
func NewApp(d *db.DB, node ln.NodeClient, lnurlClient *lnurl.Client,
	cards *boltcards.Service, config Config) RestServer {

	server := RestServer{
		Router: getGinEngine(config),
		db:     d,
		node:   node,
		lnurl:  lnurlClient,
		cards:  cards,
		config: config,
	}

	server.registerWalletRoutes()
	server.registerWithdrawConfigRoutes()
	server.registerBoltCardRoutes()

	return server
}

func getGinEngine(config Config) *gin.Engine {
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(build.GinLoggingMiddleware(log))

	if len(config.AllowedOrigins) > 0 {
		corsConfig := cors.Config{
			AllowOrigins: config.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet, http.MethodPost,
				http.MethodPut, http.MethodDelete,
			},
			AllowHeaders: []string{
				"Accept", "Access-Control-Allow-Origin", "Content-Type",
				"Referer", "Authorization"},
		}
		engine.Use(cors.New(corsConfig))
	}

	return engine
}

// badRequest responds with a 400 and the error message.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// internalError logs the error and responds with an opaque 500.
func internalError(c *gin.Context, err error) {
	log.WithError(err).Error("Internal error handling request")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// notFound responds with a 404 and the error message.
func notFound(c *gin.Context, err error) {
	c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
}

// intQuery parses a required positive integer query parameter.
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, errors.Errorf("%s query parameter is required", name)
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, errors.Errorf("invalid %s query parameter", name)
	}
	return value, nil
}
