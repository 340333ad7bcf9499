// Package gateway provides a reusable apply-gateway library that can be embedded into other Go applications.
//
// # Overview
//
// The apply gateway is a thin orchestration layer for a job-application
// service. It tracks applications on a kanban board, walks the apply flow
// from resume selection to run creation, polls application runs for status,
// and manages auto-apply preferences, exposing all of it as a REST API.
//
// # Basic Usage
//
// Create a gateway programmatically:
//
//	cfg := &gateway.Config{
//		Server: gateway.ServerConfig{
//			Port:         8080,
//			ReadTimeout:  30 * time.Second,
//			WriteTimeout: 30 * time.Second,
//		},
//		Auth: gateway.AuthConfig{
//			APIKeys: []gateway.APIKey{
//				{Name: "my-app", Key: "secret-key-here"},
//			},
//		},
//		Remote: gateway.RemoteConfig{
//			URL:       "https://api.example.com",
//			TokenFile: "/var/lib/apply/tokens.json",
//		},
//		Logging: gateway.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
// Integrate the gateway into an existing HTTP server:
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Mount the gateway under a specific path
//	http.Handle("/apply/", http.StripPrefix("/apply", gw.Handler()))
//
//	// Add your own routes
//	http.HandleFunc("/custom", myHandler)
//
//	http.ListenAndServe(":8080", nil)
//
// # File-based Configuration
//
// Load configuration from a YAML file with environment expansion:
//
//	gw, err := gateway.NewFromConfigFile("configs/gateway.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Direct Service Access
//
// Access the service layer directly for programmatic control:
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc := gw.Service()
//
//	// Start an apply flow programmatically
//	flow, err := svc.StartFlow(ctx, "job_id", "")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Flow %s at step %s\n", flow.ID, flow.Step)
package gateway
