package cmd

// projectVersion is overridden at build time with -ldflags "-X github.com/glothriel/airlink/pkg/cmd.projectVersion=..."
var projectVersion = "dev"
