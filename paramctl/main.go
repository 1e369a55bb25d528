package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/attolab/paramtree"
	"github.com/attolab/paramtree/mock"
	"github.com/attolab/paramtree/wire"
)

const ParamCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Parameter tree control.

The default url is ws://127.0.0.1:8180

Usage:
    paramctl list [--url=<url>] [--jwt=<jwt>] [<path>]
    paramctl get [--url=<url>] [--jwt=<jwt>] <path>
    paramctl set [--url=<url>] [--jwt=<jwt>] <path> <value>
    paramctl watch [--url=<url>] [--jwt=<jwt>] <path>
        [--count=<count>]
    paramctl serve [--port=<port>] [--secret=<secret>]
        [--paths_file=<paths_file>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --url=<url>                Server url.
    --jwt=<jwt>                Bearer token.
    --count=<count>            Print this many updates then exit.
    --port=<port>              Listen port [default: 8180].
    --secret=<secret>          Require bearer tokens signed with this secret.
    --paths_file=<paths_file>  File with one path per line to serve.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ParamCtlVersion)
	if err != nil {
		panic(err)
	}

	if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if get_, _ := opts.Bool("get"); get_ {
		get(opts)
	} else if set_, _ := opts.Bool("set"); set_ {
		set(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func connect(opts docopt.Opts) *wire.ClientSession {
	url := "ws://127.0.0.1:8180"
	if urlOpt, err := opts.String("--url"); err == nil && urlOpt != "" {
		url = urlOpt
	}
	byJwt, _ := opts.String("--jwt")

	clientSession, err := wire.Connect(context.Background(), url, byJwt, nil)
	if err != nil {
		Err.Fatalf("connect %s error = %s", url, err)
	}
	return clientSession
}

func list(opts docopt.Opts) {
	clientSession := connect(opts)
	defer clientSession.Close()

	path, _ := opts.String("<path>")
	if path == "" {
		path = "*"
	}

	paths, err := clientSession.ListNodes(context.Background(), path, paramtree.ListNodesAbsolute|paramtree.ListNodesRecursive)
	if err != nil {
		Err.Fatalf("list error = %s", err)
	}
	for _, path := range paths {
		Out.Printf("%s", path)
	}
}

func get(opts docopt.Opts) {
	clientSession := connect(opts)
	defer clientSession.Close()

	path, _ := opts.String("<path>")
	ctx := context.Background()

	root, err := paramtree.ConstructNodetree(ctx, clientSession, &paramtree.NodetreeSettings{
		UseEnumParser: true,
	})
	if err != nil {
		Err.Fatalf("tree error = %s", err)
	}
	node, err := root.Resolve(path)
	if err != nil {
		Err.Fatalf("resolve %s error = %s", path, err)
	}

	switch n := node.(type) {
	case *paramtree.LeafNode:
		value, err := n.Get(ctx)
		if err != nil {
			Err.Fatalf("get %s error = %s", path, err)
		}
		printValue(value)
	case *paramtree.PartialNode:
		result, err := n.Get(ctx)
		if err != nil {
			Err.Fatalf("get %s error = %s", path, err)
		}
		for _, value := range result.Results() {
			printValue(value)
		}
	case *paramtree.WildcardNode:
		result, err := n.Get(ctx)
		if err != nil {
			Err.Fatalf("get %s error = %s", path, err)
		}
		for _, value := range result.Results() {
			printValue(value)
		}
	}
}

func set(opts docopt.Opts) {
	clientSession := connect(opts)
	defer clientSession.Close()

	path, _ := opts.String("<path>")
	valueStr, _ := opts.String("<value>")

	acknowledged, err := clientSession.Set(context.Background(), paramtree.AnnotatedValue{
		Value: parseValue(valueStr),
		Path:  path,
	})
	if err != nil {
		Err.Fatalf("set %s error = %s", path, err)
	}
	printValue(acknowledged)
}

func watch(opts docopt.Opts) {
	clientSession := connect(opts)
	defer clientSession.Close()

	path, _ := opts.String("<path>")
	count := -1
	if countOpt, err := opts.Int("--count"); err == nil {
		count = countOpt
	}

	ctx := context.Background()
	queue, err := clientSession.Subscribe(ctx, path, nil)
	if err != nil {
		Err.Fatalf("subscribe %s error = %s", path, err)
	}
	defer queue.Disconnect()

	for i := 0; count < 0 || i < count; i += 1 {
		value, err := queue.Get(ctx)
		if err != nil {
			Err.Fatalf("watch %s error = %s", path, err)
		}
		printValue(value)
	}
}

func serve(opts docopt.Opts) {
	port, err := opts.Int("--port")
	if err != nil {
		port = 8180
	}
	secret, _ := opts.String("--secret")

	var paths []string
	if pathsFile, err := opts.String("--paths_file"); err == nil && pathsFile != "" {
		data, err := os.ReadFile(pathsFile)
		if err != nil {
			Err.Fatalf("read %s error = %s", pathsFile, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line := strings.TrimSpace(line); line != "" {
				paths = append(paths, line)
			}
		}
	} else {
		paths = []string{
			"/dev1000/demods/0/rate",
			"/dev1000/demods/0/enable",
			"/dev1000/demods/1/rate",
			"/dev1000/demods/1/enable",
			"/dev1000/system/serial",
		}
	}

	session := mock.NewAutomaticSessionForPaths(paths)
	settings := wire.DefaultServerSettings()
	settings.AuthSecret = secret
	server := wire.NewServer(context.Background(), session, settings)

	Out.Printf("serving %d paths on :%d", len(paths), port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), server); err != nil {
		Err.Fatalf("serve error = %s", err)
	}
}

func printValue(value paramtree.AnnotatedValue) {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		timestamp := time.Unix(0, value.Timestamp).Format(time.RFC3339Nano)
		Out.Printf("%s %s = %v", timestamp, value.Path, value.Value)
	} else {
		Out.Printf("%s %v", value.Path, value.Value)
	}
}

func parseValue(valueStr string) paramtree.Value {
	if intValue, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return intValue
	}
	if floatValue, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return floatValue
	}
	return valueStr
}
