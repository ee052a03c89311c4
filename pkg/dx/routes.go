package dx

import (
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Route names for the DNAnexus API methods used. Every DNAnexus API
// call is a POST of a JSON body to /<object-id>/<method>, or to
// /system/<method> for searches.
const (
	FindProjects       = "FindProjects"
	FindDataObjects    = "FindDataObjects"
	FindExecutions     = "FindExecutions"
	FindAnalyses       = "FindAnalyses"
	ProjectNew         = "ProjectNew"
	ProjectInvite      = "ProjectInvite"
	ProjectListFolder  = "ProjectListFolder"
	ProjectNewFolder   = "ProjectNewFolder"
	ProjectClone       = "ProjectClone"
	ProjectMove        = "ProjectMove"
	FileNew            = "FileNew"
	FileUpload         = "FileUpload"
	FileClose          = "FileClose"
	FileDescribe       = "FileDescribe"
	FileDownload       = "FileDownload"
	ExecutionDescribe  = "ExecutionDescribe"
	ExecutionTerminate = "ExecutionTerminate"
	ExecutionAddTags   = "ExecutionAddTags"
	AppRun             = "AppRun"
)

const (
	projectPattern   = "{project:project-[0-9A-Za-z]+}"
	filePattern      = "{file:file-[0-9A-Za-z]+}"
	executionPattern = "{execution:(?:job|analysis)-[0-9A-Za-z]+}"
	appPattern       = "{app:app-[^/]+}"
)

func NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(FindProjects).Methods("POST").Path("/system/findProjects")
	r.NewRoute().Name(FindDataObjects).Methods("POST").Path("/system/findDataObjects")
	r.NewRoute().Name(FindExecutions).Methods("POST").Path("/system/findExecutions")
	r.NewRoute().Name(FindAnalyses).Methods("POST").Path("/system/findAnalyses")

	r.NewRoute().Name(ProjectNew).Methods("POST").Path("/project/new")
	r.NewRoute().Name(ProjectInvite).Methods("POST").Path("/" + projectPattern + "/invite")
	r.NewRoute().Name(ProjectListFolder).Methods("POST").Path("/" + projectPattern + "/listFolder")
	r.NewRoute().Name(ProjectNewFolder).Methods("POST").Path("/" + projectPattern + "/newFolder")
	r.NewRoute().Name(ProjectClone).Methods("POST").Path("/" + projectPattern + "/clone")
	r.NewRoute().Name(ProjectMove).Methods("POST").Path("/" + projectPattern + "/move")

	r.NewRoute().Name(FileNew).Methods("POST").Path("/file/new")
	r.NewRoute().Name(FileUpload).Methods("POST").Path("/" + filePattern + "/upload")
	r.NewRoute().Name(FileClose).Methods("POST").Path("/" + filePattern + "/close")
	r.NewRoute().Name(FileDescribe).Methods("POST").Path("/" + filePattern + "/describe")
	r.NewRoute().Name(FileDownload).Methods("POST").Path("/" + filePattern + "/download")

	r.NewRoute().Name(ExecutionDescribe).Methods("POST").Path("/" + executionPattern + "/describe")
	r.NewRoute().Name(ExecutionTerminate).Methods("POST").Path("/" + executionPattern + "/terminate")
	r.NewRoute().Name(ExecutionAddTags).Methods("POST").Path("/" + executionPattern + "/addTags")

	r.NewRoute().Name(AppRun).Methods("POST").Path("/" + appPattern + "/run")

	return r
}

// MakeURL resolves a named route, with its path variables given as
// name, value pairs, against the API endpoint.
func MakeURL(endpoint string, router *mux.Router, routeName string, pathVars ...string) (*url.URL, error) {
	if len(pathVars)%2 != 0 {
		panic("pathVars must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(pathVars...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	return endpointURL, nil
}
