/*
Package httpapi implements the versioned administrator-facing REST API
(spec.md §4.4): GET /v1/version, and the /v1/configuration/datasets and
/v1/state/datasets resources. Routing uses gorilla/mux, the same router
used across the retrieval corpus (gardener-gardener, openshift-hypershift,
openshift-kni-oran-o2ims, Scoutflo-kubernetes-mcp-server); request body
validation uses the xeipuuv/gojsonschema validator named directly by the
spec's "backed by a JSON-schema validator".
*/
package httpapi
